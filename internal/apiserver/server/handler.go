// Package server 路由配置与核心基础设施
//
// 本文件组装各领域依赖（LMS 客户端、对话模型网关、会话管理、测验生成）
// 并定义 HTTP 路由，将请求分发到各领域独立包。
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eagle-task/api"
	"eagle-task/internal/apiserver/canvas"
	"eagle-task/internal/apiserver/grades"
	"eagle-task/internal/apiserver/httpx"
	"eagle-task/internal/apiserver/planner"
	quizapi "eagle-task/internal/apiserver/quiz"
	"eagle-task/internal/apiserver/support"
	"eagle-task/internal/assistant"
	"eagle-task/internal/config"
	"eagle-task/internal/conversation"
	"eagle-task/internal/lms"
	"eagle-task/internal/quiz"
	objstore "eagle-task/internal/shared/minio"
	"eagle-task/pkg/logging"
)

// Handler HTTP 请求处理器
type Handler struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *Metrics

	store         conversation.Store
	conversations *conversation.Manager
	lms           *lms.Client
	gateway       assistant.Gateway
	quiz          *quiz.Generator
	openapi       []byte
}

// NewHandler 根据配置创建 Handler
//
// reg 为 nil 时指标注册到默认 Registry。
func NewHandler(cfg *config.Config, log *logging.Logger, reg *prometheus.Registry) (*Handler, error) {
	if log == nil {
		log = logging.Nop()
	}
	h := &Handler{
		cfg:     cfg,
		log:     log.Component("apiserver"),
		metrics: NewMetrics("eagle_task", reg),
	}

	doc, err := api.Document()
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}
	h.openapi = doc

	h.lms = lms.NewClient(lms.Options{
		BaseURL:          cfg.Canvas.BaseURL,
		CurrentTermID:    cfg.Canvas.CurrentTermID,
		PerPage:          cfg.Canvas.PerPage,
		FetchConcurrency: cfg.Canvas.FetchConcurrency,
		Timeout:          cfg.Canvas.HTTPTimeout,
		Logger:           log.Component("lms"),
		Observe:          h.metrics.ObserveLMS,
	})

	h.gateway = assistant.NewOpenAIClient(assistant.Config{
		BaseURL:     cfg.OpenAI.BaseURL,
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.HTTPTimeout,
		Logger:      log.Component("assistant"),
		Observe:     h.metrics.ObserveAssistant,
	})

	switch cfg.Sessions.Backend {
	case config.SessionBackendRedis:
		store, err := conversation.NewRedisStoreFromURL(cfg.RedisURL, cfg.Sessions.TTL, log.Component("sessions"))
		if err != nil {
			return nil, err
		}
		h.store = store
	default:
		h.store = conversation.NewMemoryStore()
	}
	h.conversations = conversation.NewManager(h.store,
		conversation.WithLogger(log.Component("conversation")),
		conversation.WithCreatedHook(h.metrics.ConversationCreated),
	)

	opts := quiz.Options{
		QuestionCount:  cfg.Quiz.QuestionCount,
		MaxSourceChars: cfg.Quiz.MaxSourceChars,
		Logger:         log.Component("quiz"),
	}
	if cfg.MinIO.Enabled() {
		archive, err := objstore.NewClient(cfg.MinIO, log.Component("minio"))
		if err != nil {
			h.store.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := archive.EnsureBucket(ctx); err != nil {
			h.log.Warn().Err(err).Str("bucket", cfg.MinIO.Bucket).Msg("Quiz archive bucket unavailable")
		}
		cancel()
		opts.Archiver = archive
	}
	h.quiz = quiz.NewGenerator(h.gateway, opts)

	return h, nil
}

// Close 释放会话存储连接
func (h *Handler) Close() error {
	return h.store.Close()
}

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 基础:
//   - GET  /             - 欢迎信息
//   - GET  /health       - 服务健康检查
//   - GET  /metrics      - Prometheus 指标
//   - GET  /openapi.yaml - OpenAPI 文档
//
// Canvas 数据 (canvas):
//   - POST /validate-api-key
//   - POST /get-courses-with-graded-assignments
//   - POST /get-courses
//   - POST /get-assignments
//   - POST /get-modules
//   - POST /get-grades
//
// 对话 (planner / grades / support):
//   - POST /create-tasks
//   - POST /chat-tasks
//   - POST /analyze-grades
//   - POST /support
//
// 测验 (quiz):
//   - POST /create-quiz
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /openapi.yaml", h.OpenAPI)

	horizon := h.cfg.Canvas.UpcomingHorizonDays

	canvas.NewHandler(h.lms, horizon, h.log).RegisterRoutes(mux)
	planner.NewHandler(h.lms, h.conversations, h.gateway, horizon, h.log).RegisterRoutes(mux)
	grades.NewHandler(h.conversations, h.gateway, h.log).RegisterRoutes(mux)
	support.NewHandler(h.conversations, h.gateway, h.log).RegisterRoutes(mux)
	quizapi.NewHandler(h.quiz, h.cfg.Quiz.MaxUploadBytes, h.metrics.QuizUpload, h.log).RegisterRoutes(mux)

	// 指标中间件必须直接包裹 mux 才能读到 r.Pattern
	apiHandler := h.metrics.MetricsMiddleware(mux)
	logged := requestLogMiddleware(h.log)(apiHandler)
	return corsMiddleware(h.cfg.APIServer.CORSOrigins)(logged)
}

// Root 欢迎信息
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Hello, eagle-task relay!"})
}

// Health 健康检查
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"sessions": string(h.cfg.Sessions.Backend),
	})
}

// OpenAPI 返回嵌入的 OpenAPI 文档
// GET /openapi.yaml
func (h *Handler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(h.openapi)
}
