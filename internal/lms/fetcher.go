package lms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/iter"

	"eagle-task/internal/shared/model"
)

// CourseStatus 单门课程的聚合结果
type CourseStatus string

const (
	CourseOK     CourseStatus = "ok"
	CourseDenied CourseStatus = "denied"
	CourseFailed CourseStatus = "failed"
)

// CourseOutcome 单门课程的已评分作业获取结果
//
// CourseOK 且 Assignments 为空表示“可访问但没有已评分作业”，与 CourseDenied 区分。
type CourseOutcome struct {
	Course      model.Course
	Assignments []model.GradedAssignment
	Status      CourseStatus
	Err         error
}

// Aggregate 课程与已评分作业的聚合结果，保持课程列表顺序
type Aggregate struct {
	Outcomes []CourseOutcome
}

// Graded 返回可访问课程的成绩快照（包括零作业课程）
func (a Aggregate) Graded() []model.CourseGrades {
	out := make([]model.CourseGrades, 0, len(a.Outcomes))
	for _, o := range a.Outcomes {
		if o.Status != CourseOK {
			continue
		}
		out = append(out, model.CourseGrades{
			CourseName:        o.Course.Name,
			GradedAssignments: o.Assignments,
		})
	}
	return out
}

// Unavailable 返回无权访问或获取失败的课程
func (a Aggregate) Unavailable() []CourseOutcome {
	var out []CourseOutcome
	for _, o := range a.Outcomes {
		if o.Status != CourseOK {
			out = append(out, o)
		}
	}
	return out
}

// CurrentUser 获取凭据所属用户，用于校验凭据
func (c *Client) CurrentUser(ctx context.Context, apiKey string) (model.User, error) {
	var rec userRecord
	if err := c.getJSON(ctx, apiKey, "current_user", "/users/self", nil, &rec); err != nil {
		return model.User{}, err
	}
	return rec.toModel(), nil
}

// ListActiveCourses 列出当前学期的在修课程
func (c *Client) ListActiveCourses(ctx context.Context, apiKey string) ([]model.Course, error) {
	q := url.Values{}
	q.Set("enrollment_state", "active")
	q.Add("include[]", "total_scores")

	records, err := getAll[courseRecord](ctx, c, apiKey, "list_courses", "/courses", q)
	if err != nil {
		return nil, err
	}

	courses := make([]model.Course, 0, len(records))
	for _, r := range records {
		if r.restricted() {
			continue
		}
		if c.termID != 0 && r.termID() != c.termID {
			continue
		}
		courses = append(courses, r.toModel())
	}
	return courses, nil
}

func (c *Client) listAssignments(ctx context.Context, apiKey string, courseID int64, op string) ([]assignmentRecord, error) {
	q := url.Values{}
	q.Add("include[]", "submission")
	path := "/courses/" + strconv.FormatInt(courseID, 10) + "/assignments"
	return getAll[assignmentRecord](ctx, c, apiKey, op, path, q)
}

func (c *Client) gradedAssignments(ctx context.Context, apiKey string, courseID int64) ([]model.GradedAssignment, error) {
	records, err := c.listAssignments(ctx, apiKey, courseID, "list_assignments")
	if err != nil {
		return nil, err
	}
	out := make([]model.GradedAssignment, 0, len(records))
	for _, r := range records {
		if ga, ok := r.graded(); ok {
			out = append(out, ga)
		}
	}
	return out, nil
}

// ListGradedAssignments 列出课程中已提交且已评分的作业
//
// 结果从不为 nil；课程权限拒绝时返回空列表，不视为错误。
func (c *Client) ListGradedAssignments(ctx context.Context, apiKey string, courseID int64) ([]model.GradedAssignment, error) {
	out, err := c.gradedAssignments(ctx, apiKey, courseID)
	if IsPermissionDenied(err) {
		return []model.GradedAssignment{}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUpcomingAssignments 列出 [now, now+horizonDays] 内截止的作业，按截止时间升序
func (c *Client) ListUpcomingAssignments(ctx context.Context, apiKey string, horizonDays int) ([]model.UpcomingAssignment, error) {
	courses, err := c.ListActiveCourses(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	now := c.now()
	end := now.Add(time.Duration(horizonDays) * 24 * time.Hour)

	mapper := iter.Mapper[model.Course, []model.UpcomingAssignment]{MaxGoroutines: c.concurrency}
	perCourse, err := mapper.MapErr(courses, func(course *model.Course) ([]model.UpcomingAssignment, error) {
		records, err := c.listAssignments(ctx, apiKey, course.ID, "list_upcoming")
		if IsPermissionDenied(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var out []model.UpcomingAssignment
		for _, r := range records {
			if r.DueAt == nil {
				continue
			}
			if due := *r.DueAt; inWindow(due, now, end) {
				out = append(out, model.UpcomingAssignment{
					Course:     course.Name,
					Assignment: r.name(),
					DueDate:    due,
				})
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, firstError(err)
	}

	upcoming := make([]model.UpcomingAssignment, 0)
	for _, list := range perCourse {
		upcoming = append(upcoming, list...)
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].DueDate.Before(upcoming[j].DueDate)
	})
	return upcoming, nil
}

// inWindow 闭区间比较，按绝对时刻
func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// AggregateCoursesWithGradedAssignments 聚合所有在修课程的已评分作业
//
// 列课程失败或凭据被拒绝为整体失败；单门课程的失败记录在对应 CourseOutcome 中。
func (c *Client) AggregateCoursesWithGradedAssignments(ctx context.Context, apiKey string) (Aggregate, error) {
	courses, err := c.ListActiveCourses(ctx, apiKey)
	if err != nil {
		return Aggregate{}, err
	}

	mapper := iter.Mapper[model.Course, CourseOutcome]{MaxGoroutines: c.concurrency}
	outcomes, err := mapper.MapErr(courses, func(course *model.Course) (CourseOutcome, error) {
		assignments, err := c.gradedAssignments(ctx, apiKey, course.ID)
		switch {
		case err == nil:
			return CourseOutcome{Course: *course, Assignments: assignments, Status: CourseOK}, nil
		case errors.Is(err, ErrAuth):
			return CourseOutcome{}, err
		case IsPermissionDenied(err):
			return CourseOutcome{Course: *course, Assignments: []model.GradedAssignment{}, Status: CourseDenied, Err: err}, nil
		default:
			c.log.WithContext(ctx).WithError(err).Warn().
				Int64("course_id", course.ID).
				Msg("course assignments unavailable")
			return CourseOutcome{Course: *course, Assignments: []model.GradedAssignment{}, Status: CourseFailed, Err: err}, nil
		}
	})
	if err != nil {
		return Aggregate{}, firstError(err)
	}
	return Aggregate{Outcomes: outcomes}, nil
}

// ListModules 列出课程模块
func (c *Client) ListModules(ctx context.Context, apiKey string, courseID int64) ([]model.Module, error) {
	path := "/courses/" + strconv.FormatInt(courseID, 10) + "/modules"
	records, err := getAll[moduleRecord](ctx, c, apiKey, "list_modules", path, nil)
	if err != nil {
		return nil, err
	}
	modules := make([]model.Module, 0, len(records))
	for _, r := range records {
		modules = append(modules, r.toModel())
	}
	return modules, nil
}

// ListCourseScores 当前学期各课程总评
func (c *Client) ListCourseScores(ctx context.Context, apiKey string) ([]model.CourseScore, error) {
	courses, err := c.ListActiveCourses(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	scores := make([]model.CourseScore, 0, len(courses))
	for _, course := range courses {
		scores = append(scores, model.CourseScore{
			CourseID:     course.ID,
			CourseName:   course.Name,
			CurrentScore: course.CurrentScore,
			CurrentGrade: course.CurrentGrade,
		})
	}
	return scores, nil
}

// firstError conc 将并发错误 errors.Join 在一起，取第一个作为结果
//
// 优先返回 ErrAuth，保证凭据错误映射为 401。
func firstError(err error) error {
	if errors.Is(err, ErrAuth) {
		return fmt.Errorf("lms: %w", ErrAuth)
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		if errs := joined.Unwrap(); len(errs) > 0 {
			return errs[0]
		}
	}
	return err
}
