// Package server Prometheus 指标导出
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eagle-task/internal/conversation"
	"eagle-task/pkg/logging"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// LMS 上游指标
	LMSRequestsTotal   *prometheus.CounterVec
	LMSRequestDuration *prometheus.HistogramVec

	// 对话模型指标
	AssistantRequestsTotal   *prometheus.CounterVec
	AssistantRequestDuration *prometheus.HistogramVec

	// 会话与测验指标
	ConversationsCreated *prometheus.CounterVec
	QuizUploadsTotal     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 创建指标实例
//
// reg 为 nil 时注册到默认 Registry。
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		LMSRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lms_requests_total",
				Help:      "Total LMS API calls by logical endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		LMSRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lms_request_duration_seconds",
				Help:      "LMS API call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"endpoint"},
		),
		AssistantRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assistant_requests_total",
				Help:      "Total chat-completion calls by flow and status",
			},
			[]string{"flow", "status"},
		),
		AssistantRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assistant_request_duration_seconds",
				Help:      "Chat-completion call duration in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"flow"},
		),
		ConversationsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversations_created_total",
				Help:      "Conversations initialized by kind",
			},
			[]string{"kind"},
		),
		QuizUploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quiz_uploads_total",
				Help:      "Quiz document uploads by extension and outcome",
			},
			[]string{"ext", "status"},
		),
		gatherer: gatherer,
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath 使用匹配到的路由模式，未匹配的路径归为一类，避免高基数
func normalizePath(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

// Handler 返回 Prometheus HTTP Handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveLMS 记录 LMS 调用（lms.ObserveFunc）
func (m *Metrics) ObserveLMS(op string, status int, duration time.Duration, err error) {
	m.LMSRequestsTotal.WithLabelValues(op, statusLabel(status, err)).Inc()
	m.LMSRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveAssistant 记录对话模型调用（assistant.ObserveFunc）
func (m *Metrics) ObserveAssistant(ctx context.Context, status int, duration time.Duration, err error) {
	flow := logging.Flow(ctx)
	if flow == "" {
		flow = "unknown"
	}
	m.AssistantRequestsTotal.WithLabelValues(flow, statusLabel(status, err)).Inc()
	m.AssistantRequestDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// ConversationCreated 记录会话创建
func (m *Metrics) ConversationCreated(kind conversation.Kind) {
	m.ConversationsCreated.WithLabelValues(string(kind)).Inc()
}

// QuizUpload 记录测验上传
func (m *Metrics) QuizUpload(ext, status string) {
	switch ext {
	case ".txt", ".docx":
	case "":
		ext = "none"
	default:
		ext = "other"
	}
	m.QuizUploadsTotal.WithLabelValues(ext, status).Inc()
}

func statusLabel(status int, err error) string {
	if status == 0 {
		if err != nil {
			return "error"
		}
		return "unknown"
	}
	return strconv.Itoa(status)
}
