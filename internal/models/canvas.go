// internal/models/canvas.go
package models

import (
	"fmt"
	"strings"
)

// DetailedContext 表示文档结构节点的详细上下文
//
// Outline 为章节大纲，ContentMap 为 sectionID -> 正文 的内容映射。
// 外部内容覆盖（尚未写回节点负载的新持久化文本）优先于节点自身内容。
type DetailedContext struct {
	Format     string            `json:"format"`
	Outline    []Section         `json:"outline"`
	ContentMap map[string]string `json:"content_map"`
}

// ConnectedNode 表示与编排器相连的一个节点摘要
type ConnectedNode struct {
	NodeID          string           `json:"node_id"`
	Label           string           `json:"label"`
	NodeType        NodeType         `json:"node_type"`
	Summary         string           `json:"summary"`
	DetailedContext *DetailedContext `json:"detailed_context,omitempty"`
}

// CanvasContext 表示一次编排调用的画布上下文快照
//
// 每次调用重建，绝不持久化，调用结束后没有任何身份。
type CanvasContext struct {
	ConnectedNodes []ConnectedNode `json:"connected_nodes"`
	TotalNodes     int             `json:"total_nodes"`
}

// IsEmpty 检查快照是否没有任何相连节点
func (c *CanvasContext) IsEmpty() bool {
	return c == nil || len(c.ConnectedNodes) == 0
}

// FirstOfType 返回第一个指定类型的相连节点
func (c *CanvasContext) FirstOfType(t NodeType) *ConnectedNode {
	if c == nil {
		return nil
	}
	for i := range c.ConnectedNodes {
		if c.ConnectedNodes[i].NodeType == t {
			return &c.ConnectedNodes[i]
		}
	}
	return nil
}

// FindNode 按ID返回相连节点
func (c *CanvasContext) FindNode(id string) *ConnectedNode {
	if c == nil {
		return nil
	}
	for i := range c.ConnectedNodes {
		if c.ConnectedNodes[i].NodeID == id {
			return &c.ConnectedNodes[i]
		}
	}
	return nil
}

// RenderText 将快照渲染为提示词可用的文本
func (c *CanvasContext) RenderText() string {
	if c.IsEmpty() {
		return "No connected nodes on the canvas."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Canvas has %d nodes, %d connected to the orchestrator:\n",
		c.TotalNodes, len(c.ConnectedNodes)))
	for _, n := range c.ConnectedNodes {
		sb.WriteString(fmt.Sprintf("- %s\n", n.Summary))
		if n.DetailedContext != nil {
			for _, s := range n.DetailedContext.Outline {
				state := "empty"
				if _, ok := n.DetailedContext.ContentMap[s.ID]; ok || s.HasContent() {
					state = "written"
				}
				indent := strings.Repeat("  ", s.Level)
				sb.WriteString(fmt.Sprintf("%s- %s (%s)\n", indent, s.Name, state))
			}
		}
	}
	return sb.String()
}
