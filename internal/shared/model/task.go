package model

// PlannedTask 模型拆解出的学习任务
type PlannedTask struct {
	Task         string `json:"task"`
	Course       string `json:"course"`
	Description  string `json:"description"`
	TimeEstimate string `json:"time_estimate"`
	DueDate      string `json:"due_date"`
}

// TaskList 任务规划结果（按截止时间由近到远）
type TaskList struct {
	Tasks []PlannedTask `json:"tasks"`
}
