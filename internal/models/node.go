// internal/models/node.go
package models

import "strings"

// NodeType 表示画布节点的类型（封闭集合）
type NodeType string

const (
	// NodeTypeFormatContainer 表示故事格式容器节点
	NodeTypeFormatContainer NodeType = "format-container"
	// NodeTypeCharacter 表示角色节点
	NodeTypeCharacter NodeType = "character"
	// NodeTypeResearch 表示研究资料节点
	NodeTypeResearch NodeType = "research"
	// NodeTypeDocumentStructure 表示文档结构节点
	NodeTypeDocumentStructure NodeType = "document-structure"
	// NodeTypePromptSource 表示提示词来源节点
	NodeTypePromptSource NodeType = "prompt-source"
	// NodeTypeOrchestrator 表示编排器节点（每个画布有且只有一个）
	NodeTypeOrchestrator NodeType = "orchestrator"
)

// IsValid 检查节点类型是否属于封闭集合
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeFormatContainer, NodeTypeCharacter, NodeTypeResearch,
		NodeTypeDocumentStructure, NodeTypePromptSource, NodeTypeOrchestrator:
		return true
	}
	return false
}

// FormatPayload 格式容器节点的内容
type FormatPayload struct {
	Format      string `json:"format"`      // novel, screenplay, podcast, report
	Description string `json:"description"` // 格式描述
}

// CharacterPayload 角色节点的内容
type CharacterPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Traits      string `json:"traits,omitempty"`
}

// ResearchPayload 研究资料节点的内容
type ResearchPayload struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// StructurePayload 文档结构节点的内容
type StructurePayload struct {
	Format   string    `json:"format"`   // 文档格式
	Sections []Section `json:"sections"` // 章节树（扁平存储）
}

// PromptPayload 提示词来源节点的内容
type PromptPayload struct {
	Prompt string `json:"prompt"`
}

// Node 表示画布上的一个节点
//
// 节点由外部图服务拥有，编排核心只读。Type 决定哪个负载字段非空，
// 消费方必须按类型穷举处理。
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Label string   `json:"label"`

	// 类型负载：与 Type 对应的字段非空，其余为 nil
	Format    *FormatPayload    `json:"format_payload,omitempty"`
	Character *CharacterPayload `json:"character_payload,omitempty"`
	Research  *ResearchPayload  `json:"research_payload,omitempty"`
	Structure *StructurePayload `json:"structure_payload,omitempty"`
	Prompt    *PromptPayload    `json:"prompt_payload,omitempty"`
}

// MatchesLabel 检查节点标签是否匹配给定文本（不区分大小写）
func (n *Node) MatchesLabel(text string) bool {
	return strings.EqualFold(strings.TrimSpace(n.Label), strings.TrimSpace(text))
}

// Edge 表示画布上的一条有向边
//
// 指向编排器的边定义上下文输入，从编排器出发的边定义输出目标。
type Edge struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}
