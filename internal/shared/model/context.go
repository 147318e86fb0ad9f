// Package model 定义核心数据模型
//
// context.go 包含对话上下文相关的数据模型定义：
//   - Role：对话角色
//   - Turn：单条对话记录（追加后不可变）
package model

// Role 对话角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 对话记录
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemTurn 构造 system 角色记录
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// UserTurn 构造 user 角色记录
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn 构造 assistant 角色记录
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
