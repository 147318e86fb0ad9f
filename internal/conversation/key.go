// Package conversation 会话上下文管理
//
// 每个会话由 Key 标识，保存一条只追加的 Turn 序列：
//   - 第一条总是 system 角色的前言（preamble），在首次使用时生成一次，之后不再刷新
//   - 之后按请求到达顺序追加 user / assistant 记录
//
// 状态保存在注入的 Store 中（内存或 Redis），Manager 对同一 Key 的操作串行化。
package conversation

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Kind 会话类型
type Kind string

const (
	KindTasks    Kind = "tasks"
	KindTaskChat Kind = "task_chat"
	KindGrades   Kind = "grades"
	KindSupport  Kind = "support"
)

// IsValid 检查会话类型是否合法
func (k Kind) IsValid() bool {
	switch k {
	case KindTasks, KindTaskChat, KindGrades, KindSupport:
		return true
	}
	return false
}

// Key 会话标识
type Key struct {
	Kind Kind
	ID   string
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewKey 构造会话标识，id 为空时生成新的 UUID
func NewKey(kind Kind, id string) (Key, error) {
	if !kind.IsValid() {
		return Key{}, fmt.Errorf("conversation: unknown kind %q", kind)
	}
	if id == "" {
		id = NewID()
	}
	if !idPattern.MatchString(id) {
		return Key{}, fmt.Errorf("conversation: invalid id %q", id)
	}
	return Key{Kind: kind, ID: id}, nil
}

// NewID 生成会话 ID
func NewID() string {
	return uuid.NewString()
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}
