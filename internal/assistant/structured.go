package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MalformedReplyError 结构化输出接口收到的回复无法解析
type MalformedReplyError struct {
	Reason string
	Reply  string
}

func (e *MalformedReplyError) Error() string {
	return "assistant: malformed structured reply: " + e.Reason
}

// Schema 结构化回复的 JSON Schema
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// MustSchema 编译 JSON Schema，失败时 panic
func MustSchema(name, source string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return &Schema{name: name, schema: s}
}

// TaskListSchema {"tasks":[{task,course,description,time_estimate,due_date}]}
var TaskListSchema = MustSchema("task_list", `{
	"type": "object",
	"required": ["tasks"],
	"properties": {
		"tasks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["task", "course", "description", "time_estimate", "due_date"],
				"properties": {
					"task":          {"type": "string"},
					"course":        {"type": "string"},
					"description":   {"type": "string"},
					"time_estimate": {"type": "string"},
					"due_date":      {"type": "string"}
				}
			}
		}
	}
}`)

// QuizSchema {"Quiz":[{Question, Choices[4], Answer, Explanation}]}
var QuizSchema = MustSchema("quiz", `{
	"type": "object",
	"required": ["Quiz"],
	"properties": {
		"Quiz": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["Question", "Choices", "Answer", "Explanation"],
				"properties": {
					"Question":    {"type": "string", "minLength": 1},
					"Choices":     {"type": "array", "items": {"type": "string"}, "minItems": 4, "maxItems": 4},
					"Answer":      {"type": "string", "minLength": 1},
					"Explanation": {"type": "string"}
				}
			}
		}
	}
}`)

// StripCodeFence 去除首尾的 Markdown 代码块标记（``` 或 ```json）
func StripCodeFence(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// 去掉语言标记所在的首行
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if lang := strings.TrimSpace(s[:nl]); lang == "" || isFenceLanguage(lang) {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isFenceLanguage(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// DecodeStructured 去除代码块、按 schema 校验并解码到 out
func DecodeStructured(reply string, schema *Schema, out any) error {
	body := StripCodeFence(reply)
	if !json.Valid([]byte(body)) {
		return &MalformedReplyError{Reason: "reply is not valid JSON", Reply: reply}
	}

	result, err := schema.schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return &MalformedReplyError{Reason: err.Error(), Reply: reply}
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return &MalformedReplyError{
			Reason: fmt.Sprintf("reply does not match %s schema: %s", schema.name, strings.Join(reasons, "; ")),
			Reply:  reply,
		}
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return &MalformedReplyError{Reason: err.Error(), Reply: reply}
	}
	return nil
}
