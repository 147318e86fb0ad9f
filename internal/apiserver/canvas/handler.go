// Package canvas LMS 数据领域 - HTTP 处理
package canvas

import (
	"context"
	"net/http"
	"strconv"

	"eagle-task/internal/apiserver/httpx"
	"eagle-task/internal/lms"
	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

// Fetcher LMS 数据获取接口
type Fetcher interface {
	CurrentUser(ctx context.Context, apiKey string) (model.User, error)
	ListActiveCourses(ctx context.Context, apiKey string) ([]model.Course, error)
	ListUpcomingAssignments(ctx context.Context, apiKey string, horizonDays int) ([]model.UpcomingAssignment, error)
	AggregateCoursesWithGradedAssignments(ctx context.Context, apiKey string) (lms.Aggregate, error)
	ListModules(ctx context.Context, apiKey string, courseID int64) ([]model.Module, error)
	ListCourseScores(ctx context.Context, apiKey string) ([]model.CourseScore, error)
}

// Handler LMS 数据 HTTP 处理器
type Handler struct {
	fetcher     Fetcher
	horizonDays int
	log         *logging.Logger
}

// NewHandler 创建处理器
func NewHandler(fetcher Fetcher, horizonDays int, log *logging.Logger) *Handler {
	return &Handler{fetcher: fetcher, horizonDays: horizonDays, log: log}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /validate-api-key", h.ValidateAPIKey)
	mux.HandleFunc("POST /get-courses-with-graded-assignments", h.CoursesWithGradedAssignments)
	mux.HandleFunc("POST /get-courses", h.Courses)
	mux.HandleFunc("POST /get-assignments", h.Assignments)
	mux.HandleFunc("POST /get-modules", h.Modules)
	mux.HandleFunc("POST /get-grades", h.Grades)
}

// APIKeyRequest 只携带 LMS 凭据的请求
type APIKeyRequest struct {
	APIKey string `json:"api_key"`
}

// ModulesRequest 获取课程模块
type ModulesRequest struct {
	APIKey   string `json:"api_key"`
	CourseID int64  `json:"course_id"`
}

// UnavailableCourse 无法获取作业的课程
type UnavailableCourse struct {
	CourseName string `json:"course_name"`
	Reason     string `json:"reason"`
}

// CoursesWithGradedAssignmentsResponse 课程与已评分作业
type CoursesWithGradedAssignmentsResponse struct {
	Courses     []model.CourseGrades `json:"courses_with_graded_assignments"`
	Unavailable []UnavailableCourse  `json:"unavailable_courses,omitempty"`
}

func (h *Handler) decodeKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req APIKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return "", false
	}
	if req.APIKey == "" {
		httpx.BadRequest(w, "api_key is required")
		return "", false
	}
	return req.APIKey, true
}

// ValidateAPIKey 校验 LMS 凭据
// POST /validate-api-key
func (h *Handler) ValidateAPIKey(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.decodeKey(w, r)
	if !ok {
		return
	}
	user, err := h.fetcher.CurrentUser(r.Context(), apiKey)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "API key is valid",
		"user_id": user.ID,
	})
}

// CoursesWithGradedAssignments 课程及其已评分作业
// POST /get-courses-with-graded-assignments
//
// 零作业课程保留在列表中；无权访问或获取失败的课程单独列在 unavailable_courses。
func (h *Handler) CoursesWithGradedAssignments(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.decodeKey(w, r)
	if !ok {
		return
	}
	agg, err := h.fetcher.AggregateCoursesWithGradedAssignments(r.Context(), apiKey)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}

	resp := CoursesWithGradedAssignmentsResponse{Courses: agg.Graded()}
	for _, o := range agg.Unavailable() {
		resp.Unavailable = append(resp.Unavailable, UnavailableCourse{
			CourseName: o.Course.Name,
			Reason:     string(o.Status),
		})
	}

	if len(resp.Courses) == 0 && len(resp.Unavailable) == 0 {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "No courses with graded assignments found."})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Courses 当前学期课程
// POST /get-courses
func (h *Handler) Courses(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.decodeKey(w, r)
	if !ok {
		return
	}
	courses, err := h.fetcher.ListActiveCourses(r.Context(), apiKey)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

// Assignments 即将截止的作业
// POST /get-assignments
func (h *Handler) Assignments(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.decodeKey(w, r)
	if !ok {
		return
	}
	upcoming, err := h.fetcher.ListUpcomingAssignments(r.Context(), apiKey, h.horizonDays)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"assignments": upcoming})
}

// Modules 课程模块
// POST /get-modules
func (h *Handler) Modules(w http.ResponseWriter, r *http.Request) {
	var req ModulesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if req.APIKey == "" {
		httpx.BadRequest(w, "api_key is required")
		return
	}
	if req.CourseID <= 0 {
		httpx.BadRequest(w, "course_id must be a positive integer, got "+strconv.FormatInt(req.CourseID, 10))
		return
	}
	modules, err := h.fetcher.ListModules(r.Context(), req.APIKey, req.CourseID)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

// Grades 各课程总评
// POST /get-grades
func (h *Handler) Grades(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := h.decodeKey(w, r)
	if !ok {
		return
	}
	scores, err := h.fetcher.ListCourseScores(r.Context(), apiKey)
	if err != nil {
		httpx.HandleError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"grades": scores})
}
