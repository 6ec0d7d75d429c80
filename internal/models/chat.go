// internal/models/chat.go
package models

import "time"

// MessageRole 表示聊天消息的角色
type MessageRole string

const (
	RoleUser         MessageRole = "user"
	RoleOrchestrator MessageRole = "orchestrator"
)

// MessageCategory 表示消息在界面上的展示类别
type MessageCategory string

const (
	CategoryThinking MessageCategory = "thinking"
	CategoryDecision MessageCategory = "decision"
	CategoryTask     MessageCategory = "task"
	CategoryResult   MessageCategory = "result"
	CategoryError    MessageCategory = "error"
	CategoryUserEcho MessageCategory = "user-echo"
)

// ChatMessage 表示画布范围内的一条聊天消息
//
// 消息日志只追加，跨轮次保留，仅在用户显式清空时删除。
// 时间戳单调不减，由 SessionState 统一分配。
type ChatMessage struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Role      MessageRole     `json:"role"`
	Category  MessageCategory `json:"category"`
	Content   string          `json:"content"`
}

// PendingCreation 表示等待模板选择的结构创建请求
//
// 当 create_structure 意图缺少模板选择时创建；在用户选定模板或
// 显式取消时销毁。每个画布最多存在一个。
type PendingCreation struct {
	Format          string    `json:"format"`       // 目标文档格式
	UserMessage     string    `json:"user_message"` // 触发创建的原始消息
	ReferenceNodeID string    `json:"reference_node_id,omitempty"`
	EnhancedPrompt  string    `json:"enhanced_prompt,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
