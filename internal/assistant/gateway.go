// Package assistant 对话补全网关
//
// OpenAIClient 将有序的对话记录发送到 OpenAI 兼容的 /v1/chat/completions 接口，
// 返回首个候选回复。任何传输或上游失败都统一为 *GatewayError，不做重试。
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

// Gateway 对话补全接口
type Gateway interface {
	Complete(ctx context.Context, turns []model.Turn) (string, error)
}

// GatewayError 补全调用失败
type GatewayError struct {
	StatusCode int // 0 表示未收到响应
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant gateway: status %d: %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("assistant gateway: %s: %v", e.Message, e.Err)
	}
	return "assistant gateway: " + e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ObserveFunc 补全调用观测回调，ctx 携带业务流程名（logging.WithFlow）
type ObserveFunc func(ctx context.Context, status int, duration time.Duration, err error)

// Config OpenAIClient 配置
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration

	HTTPClient *http.Client
	Logger     *logging.Logger
	Observe    ObserveFunc
}

// OpenAIClient OpenAI 兼容的补全客户端
type OpenAIClient struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	log         *logging.Logger
	observe     ObserveFunc
}

// NewOpenAIClient 创建补全客户端
func NewOpenAIClient(cfg Config) *OpenAIClient {
	c := &OpenAIClient{
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/v1/chat/completions",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      cfg.HTTPClient,
		log:         cfg.Logger,
		observe:     cfg.Observe,
	}
	if c.model == "" {
		c.model = "gpt-4o-mini"
	}
	if c.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.client = &http.Client{Timeout: timeout}
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete 发送对话记录并返回首个回复（去除首尾空白）
func (c *OpenAIClient) Complete(ctx context.Context, turns []model.Turn) (string, error) {
	start := time.Now()
	reply, status, err := c.complete(ctx, turns)
	duration := time.Since(start)

	if c.observe != nil {
		c.observe(ctx, status, duration, err)
	}
	c.log.WithContext(ctx).UpstreamLog("openai", "chat_completion", status, duration, err)
	return reply, err
}

func (c *OpenAIClient) complete(ctx context.Context, turns []model.Turn) (string, int, error) {
	messages := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: c.temperature})
	if err != nil {
		return "", 0, &GatewayError{Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, &GatewayError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			msg = "request timed out"
		}
		return "", 0, &GatewayError{Message: msg, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", resp.StatusCode, &GatewayError{StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", resp.StatusCode, &GatewayError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", resp.StatusCode, &GatewayError{Message: "malformed response", Err: decodeErr}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return "", resp.StatusCode, &GatewayError{Message: "empty choices"}
	}
	return strings.TrimSpace(*parsed.Choices[0].Message.Content), resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
