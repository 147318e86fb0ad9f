// Package quiz 测验生成领域 - HTTP 处理
package quiz

import (
	"context"
	"errors"
	"io"
	"net/http"

	"eagle-task/internal/apiserver/httpx"
	quizgen "eagle-task/internal/quiz"
	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

// 错误码
const (
	CodeUnsupportedType = "unsupported_file_type"
	CodeInvalidDocument = "invalid_document"
	CodeTooLarge        = "file_too_large"
)

// Generator 测验生成接口
type Generator interface {
	Generate(ctx context.Context, filename string, data []byte) (model.Quiz, error)
}

// ObserveFunc 上传结果观测回调
type ObserveFunc func(ext, status string)

// Handler 测验 HTTP 处理器
type Handler struct {
	generator Generator
	maxBytes  int64
	observe   ObserveFunc
	log       *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(generator Generator, maxBytes int64, observe ObserveFunc, log *logging.Logger) *Handler {
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Handler{generator: generator, maxBytes: maxBytes, observe: observe, log: log}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /create-quiz", h.Create)
}

// Create 从上传的 .txt / .docx 生成测验
// POST /create-quiz (multipart/form-data, 字段 file)
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(logging.WithFlow(r.Context(), "quiz"))
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.observe("", "rejected")
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "file is too large")
			return
		}
		httpx.BadRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	ext := quizgen.Extension(header.Filename)
	if !quizgen.Supported(header.Filename) {
		h.observe(ext, "rejected")
		httpx.WriteError(w, http.StatusBadRequest, CodeUnsupportedType,
			"Unsupported file type. Please upload a .txt or .docx file.")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		httpx.BadRequest(w, "failed to read uploaded file")
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.observe(ext, "rejected")
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "file is too large")
		return
	}

	result, err := h.generator.Generate(r.Context(), header.Filename, data)
	if err != nil {
		var docErr *quizgen.DocumentError
		switch {
		case errors.Is(err, quizgen.ErrUnsupportedType):
			h.observe(ext, "rejected")
			httpx.WriteError(w, http.StatusBadRequest, CodeUnsupportedType, err.Error())
		case errors.Is(err, quizgen.ErrEmptyDocument), errors.As(err, &docErr):
			h.observe(ext, "rejected")
			httpx.WriteError(w, http.StatusBadRequest, CodeInvalidDocument, err.Error())
		default:
			h.observe(ext, "failed")
			httpx.HandleError(w, r, h.log, err)
		}
		return
	}

	h.observe(ext, "ok")
	httpx.WriteJSON(w, http.StatusOK, result)
}
