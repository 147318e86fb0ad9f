package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eagle-task/api"
	"eagle-task/internal/apiserver/httpx"
	"eagle-task/internal/config"
	"eagle-task/pkg/logging"
)

const goodKey = "canvas-good-key"

// newFakeCanvas 模拟 Canvas：课程 1 (Algorithms) 有一个已评分作业和一个即将截止的作业，课程 2 (Ethics) 没有作业
func newFakeCanvas(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	authed := func(fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+goodKey {
				w.Header().Set("WWW-Authenticate", `Bearer realm="canvas-lms"`)
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"errors":[{"message":"Invalid access token."}]}`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fn(w, r)
		}
	}

	mux.HandleFunc("GET /api/v1/users/self", authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":42,"name":"Baldwin Eagle"}`)
	}))
	mux.HandleFunc("GET /api/v1/courses", authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id":1,"name":"Algorithms","course_code":"CSCI3383","enrollment_term_id":118},
			{"id":2,"name":"Ethics","course_code":"PHIL1070","enrollment_term_id":118},
			{"id":3,"name":"Old Course","enrollment_term_id":90}
		]`)
	}))
	mux.HandleFunc("GET /api/v1/courses/{id}/assignments", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			io.WriteString(w, `[]`)
			return
		}
		now := time.Now().UTC()
		past := now.Add(-48 * time.Hour).Format(time.RFC3339)
		soon := now.Add(72 * time.Hour).Format(time.RFC3339)
		fmt.Fprintf(w, `[
			{"id":10,"name":"HW1","due_at":%q,"points_possible":100,
			 "submission":{"score":95,"workflow_state":"graded","submitted_at":%q}},
			{"id":11,"name":"Project","due_at":%q,"points_possible":50,
			 "submission":{"score":null,"workflow_state":"unsubmitted"}}
		]`, past, past, soon)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type chatCall struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI 记录收到的请求，按 reply 返回
type fakeOpenAI struct {
	mu     sync.Mutex
	calls  []chatCall
	status int
	reply  string
}

func (f *fakeOpenAI) set(status int, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.reply = status, reply
}

func (f *fakeOpenAI) last() chatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return chatCall{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeOpenAI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call chatCall
	json.NewDecoder(r.Body).Decode(&call)

	f.mu.Lock()
	f.calls = append(f.calls, call)
	status, reply := f.status, f.reply
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		io.WriteString(w, `{"error":{"message":"upstream exploded: quota"}}`)
		return
	}
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": reply}},
		},
	})
	w.Write(body)
}

type testEnv struct {
	handler *Handler
	router  http.Handler
	openai  *fakeOpenAI
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	canvas := newFakeCanvas(t)
	openai := &fakeOpenAI{status: http.StatusOK, reply: "ok"}
	openaiSrv := httptest.NewServer(openai)
	t.Cleanup(openaiSrv.Close)

	cfg := &config.Config{
		Env: config.EnvTest,
		APIServer: config.APIServerConfig{
			Port:        "0",
			CORSOrigins: []string{"https://eagle.example.edu"},
		},
		Canvas: config.CanvasConfig{
			BaseURL:             canvas.URL,
			CurrentTermID:       118,
			UpcomingHorizonDays: 14,
			HTTPTimeout:         5 * time.Second,
			PerPage:             100,
			FetchConcurrency:    2,
		},
		OpenAI: config.OpenAIConfig{
			BaseURL:     openaiSrv.URL,
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			HTTPTimeout: 5 * time.Second,
			APIKey:      "sk-test",
		},
		Sessions: config.SessionsConfig{Backend: config.SessionBackendMemory, TTL: time.Hour},
		Quiz:     config.QuizConfig{MaxUploadBytes: 64 << 10, QuestionCount: 3, MaxSourceChars: 2000},
	}

	h, err := NewHandler(cfg, logging.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	return &testEnv{handler: h, router: h.Router(), openai: openai}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(path string, body any, headers ...string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return e.do(req)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/create-quiz", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRouter_RootAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, eagle-task relay!", decodeBody[map[string]string](t, rec)["message"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "memory", decodeBody[map[string]string](t, rec)["sessions"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateAPIKey(t *testing.T) {
	env := newTestEnv(t)

	t.Run("凭据被拒绝返回 401", func(t *testing.T) {
		rec := env.postJSON("/validate-api-key", map[string]string{"api_key": "revoked"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decodeBody[httpx.ErrorBody](t, rec)
		assert.Equal(t, httpx.CodeLMSAuth, body.Code)
		assert.NotContains(t, rec.Body.String(), "courses")
	})

	t.Run("有效凭据", func(t *testing.T) {
		rec := env.postJSON("/validate-api-key", map[string]string{"api_key": goodKey})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, float64(42), body["user_id"])
	})

	t.Run("缺少凭据", func(t *testing.T) {
		rec := env.postJSON("/validate-api-key", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCoursesWithGradedAssignments(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON("/get-courses-with-graded-assignments", map[string]string{"api_key": goodKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Courses []struct {
			CourseName        string `json:"course_name"`
			GradedAssignments []struct {
				Name            string  `json:"name"`
				PointsPossible  float64 `json:"points_possible"`
				SubmissionScore float64 `json:"submission_score"`
			} `json:"graded_assignments"`
		} `json:"courses_with_graded_assignments"`
		Unavailable []any `json:"unavailable_courses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Len(t, body.Courses, 2, "其他学期的课程应被过滤，空课程保留")
	assert.Equal(t, "Algorithms", body.Courses[0].CourseName)
	require.Len(t, body.Courses[0].GradedAssignments, 1)
	assert.Equal(t, "HW1", body.Courses[0].GradedAssignments[0].Name)
	assert.Equal(t, 95.0, body.Courses[0].GradedAssignments[0].SubmissionScore)
	assert.Equal(t, "Ethics", body.Courses[1].CourseName)
	assert.NotNil(t, body.Courses[1].GradedAssignments)
	assert.Empty(t, body.Courses[1].GradedAssignments)
	assert.Empty(t, body.Unavailable)
}

func TestCreateTasks(t *testing.T) {
	t.Run("代码块包裹的任务列表", func(t *testing.T) {
		env := newTestEnv(t)
		env.openai.set(http.StatusOK, "```json\n"+`{"tasks":[{"task":"Draft project outline","course":"Algorithms",
			"description":"Sketch the approach","time_estimate":"2 hours","due_date":"2026-10-20"}]}`+"\n```")

		rec := env.postJSON("/create-tasks", map[string]string{"apiKey": goodKey, "conversation_id": "plan-1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "plan-1", rec.Header().Get(httpx.ConversationHeader))

		var list struct {
			Tasks []map[string]string `json:"tasks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Tasks, 1)
		assert.Equal(t, "Draft project outline", list.Tasks[0]["task"])

		call := env.openai.last()
		require.Len(t, call.Messages, 1, "生成任务不追加用户消息")
		assert.Equal(t, "system", call.Messages[0].Role)
		assert.Contains(t, call.Messages[0].Content, "Course: Algorithms | Assignment: Project")
		assert.NotContains(t, call.Messages[0].Content, "HW1", "已过期作业不在时间窗口内")
	})

	t.Run("无法解析的回复返回 500", func(t *testing.T) {
		env := newTestEnv(t)
		env.openai.set(http.StatusOK, "Here are your tasks: study hard!")

		rec := env.postJSON("/create-tasks", map[string]string{"apiKey": goodKey})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeBody[httpx.ErrorBody](t, rec)
		assert.Equal(t, httpx.CodeMalformedReply, body.Code)
		assert.Equal(t, httpx.MsgMalformedReply, body.Error)
		assert.NotEmpty(t, rec.Header().Get(httpx.ConversationHeader))
	})

	t.Run("LMS 凭据被拒绝", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.postJSON("/create-tasks", map[string]string{"apiKey": "revoked"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, env.openai.count(), "凭据失败时不调用模型")
	})
}

func TestAnalyzeGrades_ConversationContinues(t *testing.T) {
	env := newTestEnv(t)
	grades := []map[string]any{{
		"course_name": "Algorithms",
		"graded_assignments": []map[string]any{
			{"name": "HW1", "due_date": nil, "points_possible": 100, "submission_score": 95},
		},
	}}

	env.openai.set(http.StatusOK, "You are doing well in Algorithms.")
	rec := env.postJSON("/analyze-grades", map[string]any{
		"prompt": "How am I doing?", "grades": grades, "conversation_id": "grades-7",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "You are doing well in Algorithms.", first["response"])
	assert.Equal(t, "grades-7", first["conversation_id"])

	env.openai.set(http.StatusOK, "Focus on exams.")
	rec = env.postJSON("/analyze-grades", map[string]any{"prompt": "What next?"},
		httpx.ConversationHeader, "grades-7")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "grades-7", rec.Header().Get(httpx.ConversationHeader))

	call := env.openai.last()
	require.Len(t, call.Messages, 4)
	assert.Equal(t, "system", call.Messages[0].Role)
	assert.Contains(t, call.Messages[0].Content, "Algorithms")
	assert.Contains(t, call.Messages[0].Content, "Assignment: HW1, Score: 95/100")
	assert.Equal(t, "How am I doing?", call.Messages[1].Content)
	assert.Equal(t, "assistant", call.Messages[2].Role)
	assert.Equal(t, "You are doing well in Algorithms.", call.Messages[2].Content)
	assert.Equal(t, "What next?", call.Messages[3].Content)

	created := testutil.ToFloat64(env.handler.metrics.ConversationsCreated.WithLabelValues("grades"))
	assert.Equal(t, 1.0, created)
}

func TestSupport_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	env.openai.set(http.StatusTooManyRequests, "")

	rec := env.postJSON("/support", map[string]string{"prompt": "Where is the counseling center?"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[httpx.ErrorBody](t, rec)
	assert.Equal(t, httpx.MsgGatewayFailure, body.Error)
	assert.Equal(t, httpx.CodeAssistantUnavailable, body.Code)
	assert.NotContains(t, rec.Body.String(), "quota", "上游细节不出现在响应中")

	failed := testutil.ToFloat64(env.handler.metrics.AssistantRequestsTotal.WithLabelValues("support", "429"))
	assert.Equal(t, 1.0, failed)
}

func TestCreateQuiz(t *testing.T) {
	t.Run("不支持的扩展名", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(uploadRequest(t, "notes.pdf", []byte("%PDF-1.7")))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unsupported_file_type", decodeBody[httpx.ErrorBody](t, rec).Code)
		assert.Zero(t, env.openai.count())
		assert.Equal(t, 1.0, testutil.ToFloat64(env.handler.metrics.QuizUploadsTotal.WithLabelValues("other", "rejected")))
	})

	t.Run("文本文档生成测验", func(t *testing.T) {
		env := newTestEnv(t)
		env.openai.set(http.StatusOK, "```json\n"+`{"Quiz":[{"Question":"What is 2+2?",
			"Choices":["A) 3","B) 4","C) 5","D) 22"],"Answer":"B) 4","Explanation":"Basic arithmetic."}]}`+"\n```")

		rec := env.do(uploadRequest(t, "Lecture.TXT", []byte("Addition combines two numbers.")))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var quiz struct {
			Quiz []struct {
				Question string   `json:"Question"`
				Choices  []string `json:"Choices"`
			} `json:"Quiz"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quiz))
		require.Len(t, quiz.Quiz, 1)
		assert.Len(t, quiz.Quiz[0].Choices, 4)

		call := env.openai.last()
		require.Len(t, call.Messages, 2)
		assert.Equal(t, "Addition combines two numbers.", call.Messages[1].Content)
		assert.Equal(t, 1.0, testutil.ToFloat64(env.handler.metrics.QuizUploadsTotal.WithLabelValues(".txt", "ok")))
	})
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "允许的来源", origin: "https://eagle.example.edu", wantOrigin: "https://eagle.example.edu"},
		{name: "未配置的来源", origin: "https://evil.example.com", wantOrigin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/support", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := env.do(req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, []string{"Origin"}, rec.Header().Values("Vary"))
			if tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), httpx.ConversationHeader)
				assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), httpx.ConversationHeader)
			}
		})
	}
}

func TestCORS_VaryOnEveryResponse(t *testing.T) {
	env := newTestEnv(t)

	t.Run("无 Origin 的请求", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"Origin"}, rec.Header().Values("Vary"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("允许全部来源时不加 Vary", func(t *testing.T) {
		handler := corsMiddleware([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://any.example.org")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Values("Vary"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.postJSON("/validate-api-key", map[string]string{"api_key": "revoked"})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `eagle_task_http_requests_total{method="POST",path="POST /validate-api-key",status="401"} 1`)
	assert.Contains(t, out, `eagle_task_lms_requests_total{endpoint="current_user",status="401"} 1`)
}

// TestOpenAPI_MatchesRoutes 文档中的每个操作都有对应路由
func TestOpenAPI_MatchesRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))

	doc, err := api.Load(t.Context())
	require.NoError(t, err)

	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			t.Run(method+" "+path, func(t *testing.T) {
				req := httptest.NewRequest(method, path, strings.NewReader("{}"))
				req.Header.Set("Content-Type", "application/json")
				rec := env.do(req)
				assert.NotEqual(t, http.StatusNotFound, rec.Code)
				assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code)
			})
		}
	}
}
