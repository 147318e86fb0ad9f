// Package grades 成绩分析领域 - HTTP 处理
package grades

import (
	"context"
	"net/http"
	"strings"

	"eagle-task/internal/apiserver/httpx"
	"eagle-task/internal/assistant"
	"eagle-task/internal/conversation"
	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

// Conversations 会话管理接口
type Conversations interface {
	Exchange(ctx context.Context, key conversation.Key, build conversation.PreambleBuilder, prompt string, completer conversation.Completer) (string, error)
}

// Handler 成绩分析 HTTP 处理器
type Handler struct {
	conversations Conversations
	gateway       assistant.Gateway
	log           *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(conversations Conversations, gateway assistant.Gateway, log *logging.Logger) *Handler {
	return &Handler{conversations: conversations, gateway: gateway, log: log}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /analyze-grades", h.Analyze)
}

// AnalyzeRequest 成绩分析请求
//
// grades 只在会话首次初始化时使用，之后的请求沿用首次的成绩快照。
type AnalyzeRequest struct {
	Prompt         string               `json:"prompt"`
	Grades         []model.CourseGrades `json:"grades"`
	ConversationID string               `json:"conversation_id,omitempty"`
}

// AnalyzeResponse 分析回复
type AnalyzeResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// Analyze 成绩分析对话
// POST /analyze-grades
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		httpx.BadRequest(w, "prompt is required")
		return
	}

	key, r, err := httpx.ResolveConversation(w, r, conversation.KindGrades, req.ConversationID)
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	build := func(context.Context) (string, error) {
		return conversation.GradesPreamble(req.Grades)
	}
	reply, err := h.conversations.Exchange(r.Context(), key, build, req.Prompt, h.gateway)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, AnalyzeResponse{Response: reply, ConversationID: key.ID})
}
