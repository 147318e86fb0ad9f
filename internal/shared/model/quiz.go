package model

// QuizQuestion 单选题
//
// JSON 字段名沿用前端约定的大写形式。
type QuizQuestion struct {
	Question    string   `json:"Question"`
	Choices     []string `json:"Choices"`
	Answer      string   `json:"Answer"`
	Explanation string   `json:"Explanation"`
}

// Quiz 测验
type Quiz struct {
	Questions []QuizQuestion `json:"Quiz"`
}
