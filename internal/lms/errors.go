package lms

import (
	"errors"
	"fmt"
)

// ErrAuth LMS 拒绝了调用方凭据
var ErrAuth = errors.New("lms: credential rejected")

// ErrPermissionDenied 凭据有效，但无权访问某个资源（例如单门课程）
var ErrPermissionDenied = errors.New("lms: permission denied")

// UpstreamError 除凭据错误之外的 LMS 调用失败
type UpstreamError struct {
	Op         string // 逻辑操作名，例如 list_courses
	StatusCode int    // 0 表示未收到响应（网络错误/超时）
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("lms %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("lms %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("lms %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("lms %s: upstream failure", e.Op)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied 判断是否为单资源权限拒绝
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
