// internal/models/action.go
package models

// ActionType 表示编排器可执行的动作类型
type ActionType string

const (
	// ActionMessage 向聊天日志追加一条消息
	ActionMessage ActionType = "message"
	// ActionOpenDocument 打开文档视图，可附带预选章节
	ActionOpenDocument ActionType = "open_document"
	// ActionSelectSection 选中一个章节
	ActionSelectSection ActionType = "select_section"
	// ActionGenerateContent 生成内容（answer 模式回到聊天，write 模式写入章节）
	ActionGenerateContent ActionType = "generate_content"
	// ActionModifyStructure 创建或修改章节树
	ActionModifyStructure ActionType = "modify_structure"
)

// ActionPriority 表示动作的执行优先级
type ActionPriority string

const (
	PriorityHigh   ActionPriority = "high"
	PriorityNormal ActionPriority = "normal"
	PriorityLow    ActionPriority = "low"
)

// GenerateMode 表示内容生成动作的模式
type GenerateMode string

const (
	// GenerateAnswer 生成回答，结果进入聊天
	GenerateAnswer GenerateMode = "answer"
	// GenerateWrite 生成正文，结果持久化到指定章节
	GenerateWrite GenerateMode = "write"
)

// ActionPayload 动作负载
type ActionPayload struct {
	SectionID   string          `json:"section_id,omitempty"`
	SectionName string          `json:"section_name,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Content     string          `json:"content,omitempty"`
	Format      string          `json:"format,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	NodeName    string          `json:"node_name,omitempty"`
	TemplateID  string          `json:"template_id,omitempty"`
	Mode        GenerateMode    `json:"mode,omitempty"`
	Category    MessageCategory `json:"category,omitempty"` // message 动作的消息类别
}

// Action 表示编排器计划执行的一个动作
type Action struct {
	Type              ActionType     `json:"type"`
	Payload           ActionPayload  `json:"payload"`
	RequiresUserInput bool           `json:"requires_user_input"`
	Priority          ActionPriority `json:"priority"`
}

// Strategy 表示动作的执行策略
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyCluster    Strategy = "cluster"
)

// RewriteAction 表示连贯性改写计划中单步的操作类型
type RewriteAction string

const (
	// RewriteUpdateSummary 更新章节摘要以匹配后代变更
	RewriteUpdateSummary RewriteAction = "update_summary"
	// RewriteRewriteContent 重写章节正文
	RewriteRewriteContent RewriteAction = "rewrite_content"
	// RewriteReviewConsistency 审校章节与目标变更的一致性
	RewriteReviewConsistency RewriteAction = "review_consistency"
)

// RewriteStep 表示连贯性改写计划中的一步
type RewriteStep struct {
	SectionID   string        `json:"section_id"`
	SectionName string        `json:"section_name"`
	Action      RewriteAction `json:"action"`
	Reason      string        `json:"reason"` // 人类可读的改写理由
}

// RewritePlan 表示按结构依赖排序的多章节改写计划
//
// 步骤严格按声明顺序执行；每步结果独立持久化，第 k 步失败时
// 前 k-1 步的写入保持已提交状态。
type RewritePlan struct {
	ID              string        `json:"id"`
	TargetSectionID string        `json:"target_section_id"`
	Steps           []RewriteStep `json:"steps"`
}

// RewriteStepResult 表示改写计划中单步的执行结果
type RewriteStepResult struct {
	Step    RewriteStep `json:"step"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
}

// RewriteReport 表示改写计划的逐步执行报告
//
// 报告逐步枚举成败，而不是全有或全无。
type RewriteReport struct {
	PlanID    string              `json:"plan_id"`
	Results   []RewriteStepResult `json:"results"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// MutationKind 表示核心向图服务发出的变更意图类型
type MutationKind string

const (
	MutationUpdateSectionContent MutationKind = "update_section_content"
	MutationCreateNode           MutationKind = "create_node"
	MutationCreateEdge           MutationKind = "create_edge"
	MutationModifyStructure      MutationKind = "modify_structure"
)

// GraphMutation 表示一个图变更意图
//
// 核心从不直接修改图；变更由外部图服务负责应用和持久化。
type GraphMutation struct {
	Kind      MutationKind `json:"kind"`
	NodeID    string       `json:"node_id,omitempty"`
	SectionID string       `json:"section_id,omitempty"`
	Content   string       `json:"content,omitempty"`
	Node      *Node        `json:"node,omitempty"`
	Edge      *Edge        `json:"edge,omitempty"`
	Sections  []Section    `json:"sections,omitempty"`
}
