package lms

import (
	"fmt"
	"strings"
	"time"

	"eagle-task/internal/shared/model"
)

// ============================================================================
// Canvas 响应记录
//
// 所有可能缺失的字段都声明为指针，转换为领域模型时使用明确的回退值。
// ============================================================================

type userRecord struct {
	ID        int64   `json:"id"`
	Name      *string `json:"name"`
	ShortName *string `json:"short_name"`
}

func (r userRecord) toModel() model.User {
	return model.User{
		ID:        r.ID,
		Name:      deref(r.Name, ""),
		ShortName: deref(r.ShortName, ""),
	}
}

type courseRecord struct {
	ID                     int64              `json:"id"`
	Name                   *string            `json:"name"`
	CourseCode             *string            `json:"course_code"`
	EnrollmentTermID       *int64             `json:"enrollment_term_id"`
	AccessRestrictedByDate *bool              `json:"access_restricted_by_date"`
	Enrollments            []enrollmentRecord `json:"enrollments"`
}

type enrollmentRecord struct {
	Type                 *string  `json:"type"`
	ComputedCurrentScore *float64 `json:"computed_current_score"`
	ComputedCurrentGrade *string  `json:"computed_current_grade"`
}

// restricted 受日期限制的课程只返回 id，不可访问
func (r courseRecord) restricted() bool {
	return r.AccessRestrictedByDate != nil && *r.AccessRestrictedByDate
}

func (r courseRecord) termID() int64 {
	if r.EnrollmentTermID == nil {
		return 0
	}
	return *r.EnrollmentTermID
}

func (r courseRecord) toModel() model.Course {
	c := model.Course{
		ID:         r.ID,
		Name:       deref(r.Name, fmt.Sprintf("Course %d", r.ID)),
		CourseCode: deref(r.CourseCode, ""),
		TermID:     r.termID(),
	}
	for _, e := range r.Enrollments {
		if e.Type != nil && !strings.EqualFold(*e.Type, "student") && !strings.EqualFold(*e.Type, "StudentEnrollment") {
			continue
		}
		if e.ComputedCurrentScore != nil || e.ComputedCurrentGrade != nil {
			c.CurrentScore = e.ComputedCurrentScore
			c.CurrentGrade = deref(e.ComputedCurrentGrade, "")
			break
		}
	}
	return c
}

type assignmentRecord struct {
	ID             int64             `json:"id"`
	Name           *string           `json:"name"`
	DueAt          *time.Time        `json:"due_at"`
	PointsPossible *float64          `json:"points_possible"`
	Submission     *submissionRecord `json:"submission"`
}

type submissionRecord struct {
	Score         *float64   `json:"score"`
	WorkflowState *string    `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

// submitted 至少存在一次提交
func (s *submissionRecord) submitted() bool {
	if s == nil {
		return false
	}
	if s.SubmittedAt != nil {
		return true
	}
	switch deref(s.WorkflowState, "unsubmitted") {
	case "submitted", "graded", "pending_review":
		return true
	}
	return false
}

func (r assignmentRecord) name() string {
	return deref(r.Name, fmt.Sprintf("Assignment %d", r.ID))
}

// graded 转换为已评分作业；不满足条件时返回 false
func (r assignmentRecord) graded() (model.GradedAssignment, bool) {
	if !r.Submission.submitted() || r.PointsPossible == nil || r.Submission.Score == nil {
		return model.GradedAssignment{}, false
	}
	ga := model.GradedAssignment{
		Name:            r.name(),
		PointsPossible:  *r.PointsPossible,
		SubmissionScore: *r.Submission.Score,
	}
	if r.DueAt != nil {
		due := r.DueAt.UTC().Format(time.RFC3339)
		ga.DueDate = &due
	}
	return ga, true
}

type moduleRecord struct {
	ID         int64   `json:"id"`
	Name       *string `json:"name"`
	Position   *int    `json:"position"`
	ItemsCount *int    `json:"items_count"`
}

func (r moduleRecord) toModel() model.Module {
	return model.Module{
		ID:         r.ID,
		Name:       deref(r.Name, fmt.Sprintf("Module %d", r.ID)),
		Position:   deref(r.Position, 0),
		ItemsCount: deref(r.ItemsCount, 0),
	}
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (b errorBody) text() string {
	var parts []string
	for _, e := range b.Errors {
		if e.Message != "" {
			parts = append(parts, e.Message)
		}
	}
	if b.Message != "" {
		parts = append(parts, b.Message)
	}
	if len(parts) == 0 {
		return b.Status
	}
	return strings.Join(parts, "; ")
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
