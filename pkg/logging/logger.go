// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	RequestIDKey      ContextKey = "request_id"
	ConversationIDKey ContextKey = "conversation_id"
	FlowKey           ContextKey = "flow"
)

// Logger 结构化日志器
type Logger struct {
	zlog      zerolog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"` // json or console
	Output    string `json:"output" yaml:"output"` // stdout, stderr, or file path
	Component string `json:"component" yaml:"-"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	return NewWithWriter(cfg, resolveOutput(cfg.Output))
}

// NewWithWriter 使用指定 Writer 创建日志器（测试中用于捕获输出）
func NewWithWriter(cfg Config, output io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	if level == zerolog.DebugLevel {
		ctx = ctx.Caller()
	}

	return &Logger{zlog: ctx.Logger(), component: cfg.Component}
}

// Nop 返回丢弃所有输出的日志器
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func resolveOutput(output string) io.Writer {
	switch output {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}

// Component 返回子组件日志器
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog:      l.zlog.With().Str("component", name).Logger(),
		component: name,
	}
}

// Debug 输出 debug 级别日志
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }

// Info 输出 info 级别日志
func (l *Logger) Info() *zerolog.Event { return l.zlog.Info() }

// Warn 输出 warn 级别日志
func (l *Logger) Warn() *zerolog.Event { return l.zlog.Warn() }

// Error 输出 error 级别日志
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	zctx := l.zlog.With()
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		zctx = zctx.Str("request_id", requestID)
	}
	if convID, ok := ctx.Value(ConversationIDKey).(string); ok && convID != "" {
		zctx = zctx.Str("conversation_id", convID)
	}
	if flow, ok := ctx.Value(FlowKey).(string); ok && flow != "" {
		zctx = zctx.Str("flow", flow)
	}
	return &Logger{zlog: zctx.Logger(), component: l.component}
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zlog: l.zlog.With().Err(err).Logger(), component: l.component}
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{
		zlog:      l.zlog.With().Float64("duration_ms", float64(d.Milliseconds())).Logger(),
		component: l.component,
	}
}

// WithRequestID 将请求 ID 写入上下文
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithConversationID 将会话 ID 写入上下文
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

// WithFlow 将业务流程名写入上下文
func WithFlow(ctx context.Context, flow string) context.Context {
	return context.WithValue(ctx, FlowKey, flow)
}

// RequestID 从上下文读取请求 ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Flow 从上下文读取业务流程名
func Flow(ctx context.Context) string {
	flow, _ := ctx.Value(FlowKey).(string)
	return flow
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	event := l.zlog.Info()
	if status >= 500 {
		event = l.zlog.Error()
	} else if status >= 400 {
		event = l.zlog.Warn()
	}
	event.
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Float64("duration_ms", float64(duration.Milliseconds())).
		Str("client_ip", clientIP).
		Msg("HTTP request")
}

// UpstreamLog 外部 API 调用日志（LMS / 对话模型）
func (l *Logger) UpstreamLog(service, operation string, status int, duration time.Duration, err error) {
	event := l.zlog.Debug()
	if err != nil {
		event = l.zlog.Warn().Err(err)
	}
	event.
		Str("service", service).
		Str("operation", operation).
		Int("status", status).
		Float64("duration_ms", float64(duration.Milliseconds())).
		Msg("Upstream call")
}
