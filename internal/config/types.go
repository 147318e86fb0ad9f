// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	OPENAI_API_KEY / MINIO_SECRET_KEY / REDIS_PASSWORD 只存在 .env 文件或进程环境中，
//	YAML 中不存储任何密钥。LMS 凭据由调用方每次请求携带，不进入配置。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/eagle-task/
//     - dev/test → ./configs/
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// SessionBackend 会话存储后端
type SessionBackend string

const (
	SessionBackendMemory SessionBackend = "memory"
	SessionBackendRedis  SessionBackend = "redis"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"`
	Canvas    CanvasConfig    `yaml:"canvas"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Quiz      QuizConfig      `yaml:"quiz"`
	Log       LogConfig       `yaml:"log"`

	loadedFrom string
}

// APIServerConfig HTTP 服务配置
type APIServerConfig struct {
	Port         string        `yaml:"port"`
	CORSOrigins  []string      `yaml:"cors_origins"` // "*" 表示允许任意来源
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CanvasConfig LMS（Canvas）接入配置
type CanvasConfig struct {
	BaseURL             string        `yaml:"base_url"`
	CurrentTermID       int64         `yaml:"current_term_id"`
	UpcomingHorizonDays int           `yaml:"upcoming_horizon_days"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	PerPage             int           `yaml:"per_page"`
	FetchConcurrency    int           `yaml:"fetch_concurrency"`
}

// OpenAIConfig 对话模型配置
// 注意：APIKey 只从 OPENAI_API_KEY 环境变量读取
type OpenAIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	APIKey      string        `yaml:"-"`
}

// SessionsConfig 会话存储配置
type SessionsConfig struct {
	Backend SessionBackend `yaml:"backend"`
	TTL     time.Duration  `yaml:"ttl"` // 仅 redis 后端生效
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
}

// MinIOConfig 对象存储配置（为空时不归档测验文档）
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Enabled 是否配置了对象存储
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// QuizConfig 测验生成配置
type QuizConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	QuestionCount  int   `yaml:"question_count"`
	MaxSourceChars int   `yaml:"max_source_chars"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env       Environment
	APIServer APIServerConfig
	Canvas    CanvasConfig
	OpenAI    OpenAIConfig
	Sessions  SessionsConfig
	RedisURL  string
	MinIO     MinIOConfig
	Quiz      QuizConfig
	Log       LogConfig

	LoadedFrom string
}
