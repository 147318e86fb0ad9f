// Package planner 任务规划领域 - HTTP 处理
package planner

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

// UpcomingFetcher 即将截止作业获取接口
type UpcomingFetcher interface {
	ListUpcomingAssignments(ctx context.Context, apiKey string, horizonDays int) ([]model.UpcomingAssignment, error)
}

// Conversations 会话管理接口
type Conversations interface {
	Exchange(ctx context.Context, key conversation.Key, build conversation.PreambleBuilder, prompt string, completer conversation.Completer) (string, error)
}

// Handler 任务规划 HTTP 处理器
type Handler struct {
	fetcher       UpcomingFetcher
	conversations Conversations
	gateway       assistant.Gateway
	horizonDays   int
	log           *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(fetcher UpcomingFetcher, conversations Conversations, gateway assistant.Gateway, horizonDays int, log *logging.Logger) *Handler {
	return &Handler{
		fetcher:       fetcher,
		conversations: conversations,
		gateway:       gateway,
		horizonDays:   horizonDays,
		log:           log,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /create-tasks", h.CreateTasks)
	mux.HandleFunc("POST /chat-tasks", h.ChatTasks)
}

// CreateTasksRequest 生成任务列表
type CreateTasksRequest struct {
	APIKey         string `json:"apiKey"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatTasksRequest 针对任务列表的追问
type ChatTasksRequest struct {
	Prompt         string              `json:"prompt"`
	Tasks          []model.PlannedTask `json:"tasks"`
	ConversationID string              `json:"conversation_id,omitempty"`
}

// ChatResponse 对话回复
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// CreateTasks 根据即将截止的作业生成任务列表
// POST /create-tasks
//
// 响应体为模型返回的 {"tasks":[...]}，不再包装；会话 ID 通过 X-Conversation-ID 返回。
func (h *Handler) CreateTasks(w http.ResponseWriter, r *http.Request) {
	var req CreateTasksRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if req.APIKey == "" {
		httpx.BadRequest(w, "apiKey is required")
		return
	}

	key, r, err := httpx.ResolveConversation(w, r, conversation.KindTasks, req.ConversationID)
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	build := func(ctx context.Context) (string, error) {
		upcoming, err := h.fetcher.ListUpcomingAssignments(ctx, req.APIKey, h.horizonDays)
		if err != nil {
			return "", err
		}
		return conversation.TasksPreamble(upcoming)
	}

	reply, err := h.conversations.Exchange(r.Context(), key, build, "", h.gateway)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}

	var list model.TaskList
	if err := assistant.DecodeStructured(reply, assistant.TaskListSchema, &list); err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

// ChatTasks 针对任务列表对话
// POST /chat-tasks
func (h *Handler) ChatTasks(w http.ResponseWriter, r *http.Request) {
	var req ChatTasksRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		httpx.BadRequest(w, "prompt is required")
		return
	}

	key, r, err := httpx.ResolveConversation(w, r, conversation.KindTaskChat, req.ConversationID)
	if err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	build := func(context.Context) (string, error) {
		return conversation.TaskChatPreamble(req.Tasks)
	}
	reply, err := h.conversations.Exchange(r.Context(), key, build, req.Prompt, h.gateway)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ChatResponse{Response: reply, ConversationID: key.ID})
}
