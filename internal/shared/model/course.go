// Package model 定义核心数据模型
//
// course.go 包含 LMS 学业数据模型：
//   - Course：当前学期的在修课程
//   - GradedAssignment：已提交且已评分的作业
//   - UpcomingAssignment：时间窗口内即将截止的作业
//   - CourseGrades：课程及其已评分作业（成绩分析的数据快照）
package model

import "time"

// Course 在修课程
type Course struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code,omitempty"`
	TermID     int64  `json:"term_id"`

	// 当前总评（来自 enrollment 的 total_scores，可能缺失）
	CurrentScore *float64 `json:"current_score,omitempty"`
	CurrentGrade string   `json:"current_grade,omitempty"`
}

// GradedAssignment 已评分作业
//
// 只有同时满足“存在提交”“points_possible 非空”“得分非空”的作业才会被构造，
// 因此 PointsPossible 与 SubmissionScore 总是有效数值。
type GradedAssignment struct {
	Name            string  `json:"name"`
	DueDate         *string `json:"due_date"`
	PointsPossible  float64 `json:"points_possible"`
	SubmissionScore float64 `json:"submission_score"`
}

// UpcomingAssignment 即将截止的作业
type UpcomingAssignment struct {
	Course     string    `json:"course"`
	Assignment string    `json:"assignment"`
	DueDate    time.Time `json:"due_date"`
}

// CourseGrades 课程成绩快照（保持插入顺序）
type CourseGrades struct {
	CourseName        string             `json:"course_name"`
	GradedAssignments []GradedAssignment `json:"graded_assignments"`
}

// Module 课程模块
type Module struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
	ItemsCount int    `json:"items_count"`
}

// CourseScore 课程总评
type CourseScore struct {
	CourseID     int64    `json:"course_id"`
	CourseName   string   `json:"course_name"`
	CurrentScore *float64 `json:"current_score"`
	CurrentGrade string   `json:"current_grade,omitempty"`
}
