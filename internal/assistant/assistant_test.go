package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eagle-task/internal/shared/model"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatRequest
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Focus on HW2.\n"}}]}`))
	})

	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "gpt-4o-mini", Temperature: 0.7})
	reply, err := c.Complete(context.Background(), []model.Turn{
		model.SystemTurn("sys"),
		model.UserTurn("what next?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Focus on HW2.", reply)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, []chatMessage{{"system", "sys"}, {"user", "what next?"}}, got.Messages)
}

func TestOpenAIClient_Failures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"上游 401", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided"}}`, 401, "Incorrect API key provided"},
		{"上游 500 非 JSON", http.StatusInternalServerError, `oops`, 500, "Internal Server Error"},
		{"空 choices", http.StatusOK, `{"choices":[]}`, 0, "empty choices"},
		{"响应不是 JSON", http.StatusOK, `<html>`, 0, "malformed response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			var observed []int
			c := NewOpenAIClient(Config{
				BaseURL: srv.URL,
				Observe: func(_ context.Context, status int, _ time.Duration, _ error) { observed = append(observed, status) },
			})

			_, err := c.Complete(context.Background(), []model.Turn{model.UserTurn("hi")})
			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.wantStatus, gwErr.StatusCode)
			assert.Equal(t, tt.wantMsg, gwErr.Message)
			assert.Equal(t, []int{tt.status}, observed)
		})
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Complete(context.Background(), nil)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "request timed out", gwErr.Message)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"无代码块", `{"tasks":[]}`, `{"tasks":[]}`},
		{"json 代码块", "```json\n{\"tasks\":[]}\n```", `{"tasks":[]}`},
		{"无语言代码块", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"单行代码块", "```json{\"a\":1}```", `{"a":1}`},
		{"首尾空白", "  \n```json\n{\"a\":1}\n```  \n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.reply))
		})
	}
}

func TestDecodeStructured_TaskList(t *testing.T) {
	t.Run("代码块包裹的任务列表", func(t *testing.T) {
		reply := "```json\n" + `{"tasks":[
			{"task":"Read chapter 4","course":"Algorithms","description":"Greedy algorithms","time_estimate":"2 hours","due_date":"2026-10-20"},
			{"task":"Draft essay","course":"Ethics","description":"Outline","time_estimate":"1 hour","due_date":"2026-10-22"}
		]}` + "\n```"
		var list model.TaskList
		require.NoError(t, DecodeStructured(reply, TaskListSchema, &list))
		require.Len(t, list.Tasks, 2)
		assert.Equal(t, "Read chapter 4", list.Tasks[0].Task)
		assert.Equal(t, "2 hours", list.Tasks[0].TimeEstimate)
	})

	malformed := []struct {
		name  string
		reply string
	}{
		{"纯文本", "Sure! Here are your tasks: ..."},
		{"截断的 JSON", "```json\n{\"tasks\":[{\"task\":\"x\"\n```"},
		{"缺少 tasks", `{"items":[]}`},
		{"任务缺少字段", `{"tasks":[{"task":"x"}]}`},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			var list model.TaskList
			err := DecodeStructured(tt.reply, TaskListSchema, &list)
			var malformedErr *MalformedReplyError
			require.ErrorAs(t, err, &malformedErr)
			assert.Equal(t, tt.reply, malformedErr.Reply)
		})
	}
}

func TestDecodeStructured_Quiz(t *testing.T) {
	valid := `{"Quiz":[{"Question":"2+2?","Choices":["1","2","3","4"],"Answer":"4","Explanation":"arithmetic"}]}`
	var quiz model.Quiz
	require.NoError(t, DecodeStructured(valid, QuizSchema, &quiz))
	require.Len(t, quiz.Questions, 1)
	assert.Len(t, quiz.Questions[0].Choices, 4)

	threeChoices := `{"Quiz":[{"Question":"2+2?","Choices":["1","2","4"],"Answer":"4","Explanation":""}]}`
	err := DecodeStructured(threeChoices, QuizSchema, &quiz)
	var malformedErr *MalformedReplyError
	assert.ErrorAs(t, err, &malformedErr)
}
