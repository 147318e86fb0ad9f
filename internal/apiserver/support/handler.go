// Package support 校园资源支持领域 - HTTP 处理
package support

import (
	"context"
	"net/http"
	"strings"

	"eagle-task/internal/apiserver/httpx"
	"eagle-task/internal/assistant"
	"eagle-task/internal/conversation"
	"eagle-task/pkg/logging"
)

// Conversations 会话管理接口
type Conversations interface {
	Exchange(ctx context.Context, key conversation.Key, build conversation.PreambleBuilder, prompt string, completer conversation.Completer) (string, error)
}

// Handler 支持对话 HTTP 处理器
type Handler struct {
	conversations Conversations
	gateway       assistant.Gateway
	preamble      conversation.PreambleBuilder
	log           *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(conversations Conversations, gateway assistant.Gateway, log *logging.Logger) *Handler {
	return &Handler{
		conversations: conversations,
		gateway:       gateway,
		preamble:      conversation.StaticPreamble(conversation.SupportPreamble()),
		log:           log,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /support", h.Chat)
}

// ChatRequest 支持对话请求
type ChatRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse 支持对话回复
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// Chat 支持对话
// POST /support
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		httpx.BadRequest(w, "prompt is required")
		return
	}

	key, r, err := httpx.ResolveConversation(w, r, conversation.KindSupport, req.ConversationID)
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	reply, err := h.conversations.Exchange(r.Context(), key, h.preamble, req.Prompt, h.gateway)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ChatResponse{Response: reply, ConversationID: key.ID})
}
