// Package httpx HTTP 处理器公共工具
//
// 各领域包共用的 JSON 读写、错误映射和会话 ID 解析。
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"eagle-task/internal/assistant"
	"eagle-task/internal/conversation"
	"eagle-task/internal/lms"
	"eagle-task/pkg/logging"
)

// ConversationHeader 会话 ID 请求/响应头
const ConversationHeader = "X-Conversation-ID"

// 错误码
const (
	CodeInvalidRequest       = "invalid_request"
	CodeLMSAuth              = "lms_auth_failed"
	CodeLMSUpstream          = "lms_upstream_error"
	CodeAssistantUnavailable = "assistant_unavailable"
	CodeMalformedReply       = "malformed_reply"
	CodeInternal             = "internal_error"
)

// 对外错误消息
const (
	MsgGatewayFailure = "Error communicating with OpenAI API"
	MsgMalformedReply = "Failed to parse response as JSON."
	MsgInvalidAPIKey  = "Invalid API key"
)

// ErrorBody 错误响应体
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: message, Code: code})
}

// DecodeJSON 解码请求体，拒绝空体和多余数据
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// BadRequest 写入 400
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeInvalidRequest, message)
}

// Classify 将领域错误映射为 HTTP 状态、错误码和对外消息
func Classify(err error) (status int, code, message string) {
	var (
		upstream  *lms.UpstreamError
		gateway   *assistant.GatewayError
		malformed *assistant.MalformedReplyError
	)
	switch {
	case errors.Is(err, lms.ErrAuth):
		return http.StatusUnauthorized, CodeLMSAuth, MsgInvalidAPIKey
	case errors.As(err, &upstream):
		return http.StatusBadGateway, CodeLMSUpstream, upstream.Error()
	case errors.As(err, &malformed):
		return http.StatusInternalServerError, CodeMalformedReply, MsgMalformedReply
	case errors.As(err, &gateway):
		return http.StatusInternalServerError, CodeAssistantUnavailable, MsgGatewayFailure
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeInternal, "request canceled"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

// HandleError 记录错误并写入映射后的响应
//
// 上游细节只写日志，不出现在响应体中（LMS 上游错误除外）。
func HandleError(w http.ResponseWriter, r *http.Request, log *logging.Logger, err error) {
	status, code, message := Classify(err)
	event := log.WithContext(r.Context()).WithError(err).Warn()
	if status >= http.StatusInternalServerError {
		event = log.WithContext(r.Context()).WithError(err).Error()
	}
	event.Str("code", code).Int("status", status).Msg("request failed")
	WriteError(w, status, code, message)
}

// ResolveConversation 解析会话 ID：请求体 > X-Conversation-ID 头 > 新 UUID
//
// 生效的 ID 写回响应头，并写入请求上下文用于日志。
func ResolveConversation(w http.ResponseWriter, r *http.Request, kind conversation.Kind, bodyID string) (conversation.Key, *http.Request, error) {
	id := bodyID
	if id == "" {
		id = r.Header.Get(ConversationHeader)
	}
	key, err := conversation.NewKey(kind, id)
	if err != nil {
		return conversation.Key{}, r, err
	}
	w.Header().Set(ConversationHeader, key.ID)
	ctx := logging.WithConversationID(r.Context(), key.ID)
	ctx = logging.WithFlow(ctx, string(kind))
	return key, r.WithContext(ctx), nil
}
