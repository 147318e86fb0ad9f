package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用）
var envSearchDirs = []string{
	".",
	"..",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
func SetConfigDir(dir string) {
	configDir = dir
}

// Load 加载配置
// 1. 加载 .env（凭据 + APP_ENV）
// 2. 根据 APP_ENV 加载 {env}.yaml
// 3. 环境变量覆盖并填充默认值
func Load() (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	// .env 中可能声明了 APP_ENV
	env = parseEnv(getEnv("APP_ENV", "dev"))

	yamlCfg, err := loadYAMLConfig(env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:        env,
		APIServer:  yamlCfg.APIServer,
		Canvas:     yamlCfg.Canvas,
		OpenAI:     yamlCfg.OpenAI,
		Sessions:   yamlCfg.Sessions,
		MinIO:      yamlCfg.MinIO,
		Quiz:       yamlCfg.Quiz,
		Log:        yamlCfg.Log,
		LoadedFrom: yamlCfg.loadedFrom,
	}

	applyEnvOverrides(cfg, &yamlCfg.Redis)
	cfg.RedisURL = buildRedisURL(yamlCfg.Redis)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultYAMLConfig 代码默认值
func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		APIServer: APIServerConfig{
			Port:         "8000",
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
		Canvas: CanvasConfig{
			BaseURL:             "https://bostoncollege.instructure.com",
			UpcomingHorizonDays: 14,
			HTTPTimeout:         20 * time.Second,
			PerPage:             100,
			FetchConcurrency:    4,
		},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			HTTPTimeout: 60 * time.Second,
		},
		Sessions: SessionsConfig{Backend: SessionBackendMemory, TTL: 12 * time.Hour},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Bucket: "eagle-task"},
		Quiz:     QuizConfig{MaxUploadBytes: 10 << 20, QuestionCount: 10, MaxSourceChars: 60000},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml → CONFIG_OVERLAYS 中的 {overlay}.yaml
func loadYAMLConfig(env Environment) (*YAMLConfig, error) {
	cfg := defaultYAMLConfig()

	names := []string{"common.yaml", fmt.Sprintf("%s.yaml", env)}
	for _, overlay := range splitList(os.Getenv("CONFIG_OVERLAYS")) {
		names = append(names, overlay+".yaml")
	}
	for i, name := range names {
		found := false
		for _, base := range effectiveConfigPaths(env) {
			path := filepath.Join(base, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			cfg.loadedFrom = path
			found = true
			break
		}
		// 显式指定的 overlay 必须存在
		if !found && i >= 2 {
			return nil, fmt.Errorf("config overlay %s not found in %v", name, effectiveConfigPaths(env))
		}
	}
	return cfg, nil
}

// configPathsForEnv 根据环境返回配置文件搜索路径
func configPathsForEnv(env Environment) []string {
	if env == EnvProduction {
		return []string{"/etc/eagle-task"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// effectiveConfigPaths 返回实际搜索路径
//
// 优先级：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径
func effectiveConfigPaths(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	return configPathsForEnv(env)
}

// loadEnvFiles 加载 .env 文件
//
// 生产环境不搜索 .env 文件（密钥由 systemd EnvironmentFile 或 shell 环境注入）。
// godotenv.Load 不覆盖已有环境变量，优先级低于 shell 环境变量。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}
	for _, name := range []string{fmt.Sprintf(".env.%s", env), ".env"} {
		for _, dir := range envSearchDirs {
			if err := godotenv.Load(filepath.Join(dir, name)); err == nil {
				break
			}
		}
	}
}

// applyEnvOverrides 环境变量覆盖 YAML 配置
func applyEnvOverrides(cfg *Config, redis *RedisConfig) {
	if v := os.Getenv("API_PORT"); v != "" {
		cfg.APIServer.Port = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.APIServer.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("CANVAS_BASE_URL"); v != "" {
		cfg.Canvas.BaseURL = v
	}
	if v := os.Getenv("CANVAS_TERM_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Canvas.CurrentTermID = id
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		cfg.Sessions.Backend = SessionBackend(strings.ToLower(v))
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		redis.URL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.MinIO.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinIO.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	redis.Password = os.Getenv("REDIS_PASSWORD")
}

// validate 校验配置并填充缺省值
func (c *Config) validate() error {
	if c.APIServer.Port == "" {
		c.APIServer.Port = "8000"
	}
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas.base_url is required")
	}
	c.Canvas.BaseURL = strings.TrimRight(c.Canvas.BaseURL, "/")
	if c.Canvas.UpcomingHorizonDays <= 0 {
		c.Canvas.UpcomingHorizonDays = 14
	}
	if c.Canvas.PerPage <= 0 || c.Canvas.PerPage > 100 {
		c.Canvas.PerPage = 100
	}
	if c.Canvas.FetchConcurrency <= 0 {
		c.Canvas.FetchConcurrency = 4
	}
	if c.Canvas.HTTPTimeout <= 0 {
		c.Canvas.HTTPTimeout = 20 * time.Second
	}
	c.OpenAI.BaseURL = strings.TrimRight(c.OpenAI.BaseURL, "/")
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.HTTPTimeout <= 0 {
		c.OpenAI.HTTPTimeout = 60 * time.Second
	}
	switch c.Sessions.Backend {
	case "":
		c.Sessions.Backend = SessionBackendMemory
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("sessions.backend: unsupported value %q", c.Sessions.Backend)
	}
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = 12 * time.Hour
	}
	if c.Quiz.MaxUploadBytes <= 0 {
		c.Quiz.MaxUploadBytes = 10 << 20
	}
	if c.Quiz.QuestionCount <= 0 {
		c.Quiz.QuestionCount = 10
	}
	if c.Quiz.MaxSourceChars <= 0 {
		c.Quiz.MaxSourceChars = 60000
	}
	if c.MinIO.Enabled() && (c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "") {
		return fmt.Errorf("minio.endpoint set but MINIO_ACCESS_KEY/MINIO_SECRET_KEY missing")
	}
	return nil
}

// buildRedisURL 构建 Redis 连接字符串
// 如果 URL 字段非空，直接使用；否则从 host/port/db/password 构建
func buildRedisURL(redis RedisConfig) string {
	if redis.URL != "" {
		return redis.URL
	}
	if redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", redis.Password, redis.Host, redis.Port, redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

// maskPassword 隐藏密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:]*:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// maskSecret 只保留末 4 位
func maskSecret(s string) string {
	if s == "" {
		return "<unset>"
	}
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String 返回配置摘要（隐藏密钥）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Port: %s, Canvas: %s (term %d), Model: %s, OpenAIKey: %s, Sessions: %s, Redis: %s}",
		c.Env, c.APIServer.Port, c.Canvas.BaseURL, c.Canvas.CurrentTermID, c.OpenAI.Model,
		maskSecret(c.OpenAI.APIKey), c.Sessions.Backend, maskPassword(c.RedisURL))
}
