// internal/models/intent.go
package models

// UserIntent 表示识别出的用户意图（封闭集合）
type UserIntent string

const (
	// 结构操作
	IntentCreateStructure UserIntent = "create_structure"
	IntentModifyStructure UserIntent = "modify_structure"

	// 内容操作
	IntentWriteContent         UserIntent = "write_content"
	IntentImproveContent       UserIntent = "improve_content"
	IntentRewriteWithCoherence UserIntent = "rewrite_with_coherence"

	// 导航
	IntentNavigateSection UserIntent = "navigate_section"
	IntentOpenAndWrite    UserIntent = "open_and_write"

	// 节点操作
	IntentDeleteNode UserIntent = "delete_node"

	// 会话
	IntentAnswerQuestion UserIntent = "answer_question"
	IntentGeneralChat    UserIntent = "general_chat"

	// 特殊：需要澄清
	IntentClarify UserIntent = "clarify_intent"
)

// SuggestedModel 表示执行意图时推荐使用的模型角色
type SuggestedModel string

const (
	ModelOrchestrator SuggestedModel = "orchestrator"
	ModelWriter       SuggestedModel = "writer"
	ModelEditor       SuggestedModel = "editor"
)

// IntentResult 表示意图分类的完整结果
type IntentResult struct {
	Intent             UserIntent        `json:"intent"`
	Confidence         float64           `json:"confidence"` // [0,1]
	Reasoning          string            `json:"reasoning"`
	SuggestedAction    string            `json:"suggested_action"`
	RequiresContext    bool              `json:"requires_context"`
	SuggestedModel     SuggestedModel    `json:"suggested_model"`
	NeedsClarification bool              `json:"needs_clarification"`
	ClarifyingQuestion string            `json:"clarifying_question,omitempty"`
	ExtractedEntities  map[string]string `json:"extracted_entities,omitempty"`
	UsedDeepPath       bool              `json:"used_deep_path"` // 是否经过深度推理路径
}

// ValidationResult 表示意图可执行性校验的结果
//
// 校验是先前输出加当前状态的纯函数，失败时绝不改变任何状态。
type ValidationResult struct {
	CanExecute   bool   `json:"can_execute"`
	ErrorMessage string `json:"error_message,omitempty"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// ActiveSection 表示当前选中的章节上下文
type ActiveSection struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Level      int    `json:"level,omitempty"`
	HasContent bool   `json:"has_content,omitempty"`
}
