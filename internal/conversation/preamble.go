package conversation

import (
	"bytes"
	"embed"
	"encoding/json"
	"strconv"
	"strings"
	"text/template"
	"time"

	"eagle-task/internal/shared/model"
)

//go:embed prompts/*
var promptFS embed.FS

var (
	gradesTmpl   = template.Must(template.ParseFS(promptFS, "prompts/grades.tmpl"))
	tasksTmpl    = template.Must(template.ParseFS(promptFS, "prompts/tasks.tmpl"))
	taskChatTmpl = template.Must(template.ParseFS(promptFS, "prompts/task_chat.tmpl"))
)

// SupportPreamble 校园资源支持会话的固定前言
func SupportPreamble() string {
	data, err := promptFS.ReadFile("prompts/support.md")
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(string(data))
}

// GradesSummary 按快照顺序渲染成绩摘要
//
//	Course: Algorithms
//	Assignment: HW1, Score: 95/100
//
// 课程块之间以空行分隔。
func GradesSummary(grades []model.CourseGrades) string {
	blocks := make([]string, 0, len(grades))
	for _, course := range grades {
		var b strings.Builder
		b.WriteString("Course: ")
		b.WriteString(course.CourseName)
		for _, a := range course.GradedAssignments {
			b.WriteString("\nAssignment: ")
			b.WriteString(a.Name)
			b.WriteString(", Score: ")
			b.WriteString(formatNumber(a.SubmissionScore))
			b.WriteString("/")
			b.WriteString(formatNumber(a.PointsPossible))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// GradesPreamble 成绩分析会话前言
func GradesPreamble(grades []model.CourseGrades) (string, error) {
	return render(gradesTmpl, struct{ Summary string }{GradesSummary(grades)})
}

type upcomingLine struct {
	Course     string
	Assignment string
	Due        string
}

// TasksPreamble 任务规划会话前言，包含 JSON 输出约定
func TasksPreamble(upcoming []model.UpcomingAssignment) (string, error) {
	lines := make([]upcomingLine, 0, len(upcoming))
	for _, a := range upcoming {
		lines = append(lines, upcomingLine{
			Course:     a.Course,
			Assignment: a.Assignment,
			Due:        a.DueDate.UTC().Format(time.RFC3339),
		})
	}
	return render(tasksTmpl, struct{ Upcoming []upcomingLine }{lines})
}

// TaskChatPreamble 任务追问会话前言
func TaskChatPreamble(tasks []model.PlannedTask) (string, error) {
	if tasks == nil {
		tasks = []model.PlannedTask{}
	}
	data, err := json.MarshalIndent(model.TaskList{Tasks: tasks}, "", "  ")
	if err != nil {
		return "", err
	}
	return render(taskChatTmpl, struct{ TasksJSON string }{string(data)})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// formatNumber 最短十进制表示：95 → "95"，92.5 → "92.5"
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
