// internal/services/context_builder.go
package services

import (
	"fmt"
	"strings"

	"github.com/publo/canvas-orchestrator/internal/models"
)

// ContextService 从画布图构建编排上下文快照
//
// 快照每次调用重建，纯读取，不产生任何副作用。图结构异常（空图、
// 悬空边、缺少编排器）一律降级为空快照而不是报错。
type ContextService struct{}

// NewContextService 创建上下文构建服务
func NewContextService() *ContextService {
	return &ContextService{}
}

// ContentOverrides 表示尚未写回节点负载的外部内容覆盖
// nodeID -> sectionID -> 正文
type ContentOverrides map[string]map[string]string

// BuildCanvasContext 构建画布上下文快照
//
// 只有指向编排器的边定义上下文输入；每个相连节点生成一行摘要，
// 文档结构节点额外生成详细上下文（大纲+内容映射，外部覆盖优先）。
func (s *ContextService) BuildCanvasContext(
	orchestratorID string,
	nodes []models.Node,
	edges []models.Edge,
	overrides ContentOverrides,
) *models.CanvasContext {
	ctx := &models.CanvasContext{
		ConnectedNodes: []models.ConnectedNode{},
		TotalNodes:     len(nodes),
	}

	if orchestratorID == "" || len(nodes) == 0 {
		return ctx
	}

	nodeByID := make(map[string]*models.Node, len(nodes))
	for i := range nodes {
		nodeByID[nodes[i].ID] = &nodes[i]
	}

	// 入边定义上下文输入；出边定义输出目标，不进入快照
	seen := make(map[string]bool)
	for _, edge := range edges {
		if edge.TargetID != orchestratorID || edge.SourceID == orchestratorID {
			continue
		}
		if seen[edge.SourceID] {
			continue
		}
		seen[edge.SourceID] = true

		node, exists := nodeByID[edge.SourceID]
		if !exists {
			// 悬空边，跳过而不是失败
			continue
		}

		connected := models.ConnectedNode{
			NodeID:   node.ID,
			Label:    node.Label,
			NodeType: node.Type,
			Summary:  s.buildSummary(node, overrides[node.ID]),
		}

		if node.Type == models.NodeTypeDocumentStructure && node.Structure != nil {
			connected.DetailedContext = s.buildDetailedContext(node, overrides[node.ID])
		}

		ctx.ConnectedNodes = append(ctx.ConnectedNodes, connected)
	}

	return ctx
}

// buildSummary 生成节点的一行摘要（类型、标签、完成状态）
func (s *ContextService) buildSummary(node *models.Node, override map[string]string) string {
	label := node.Label
	if label == "" {
		label = "(unnamed)"
	}

	switch node.Type {
	case models.NodeTypeDocumentStructure:
		total, written := 0, 0
		if node.Structure != nil {
			total = len(node.Structure.Sections)
			for _, sec := range node.Structure.Sections {
				if sec.HasContent() {
					written++
				} else if override != nil && override[sec.ID] != "" {
					written++
				}
			}
		}
		format := ""
		if node.Structure != nil && node.Structure.Format != "" {
			format = node.Structure.Format + " "
		}
		return fmt.Sprintf("%s%q (document structure, %d/%d sections written)", format, label, written, total)
	case models.NodeTypeCharacter:
		desc := ""
		if node.Character != nil && node.Character.Description != "" {
			desc = ": " + truncate(node.Character.Description, 80)
		}
		return fmt.Sprintf("%q (character)%s", label, desc)
	case models.NodeTypeResearch:
		topic := ""
		if node.Research != nil && node.Research.Topic != "" {
			topic = " on " + node.Research.Topic
		}
		return fmt.Sprintf("%q (research%s)", label, topic)
	case models.NodeTypeFormatContainer:
		format := ""
		if node.Format != nil {
			format = ", " + node.Format.Format
		}
		return fmt.Sprintf("%q (format container%s)", label, format)
	case models.NodeTypePromptSource:
		return fmt.Sprintf("%q (prompt source)", label)
	case models.NodeTypeOrchestrator:
		return fmt.Sprintf("%q (orchestrator)", label)
	default:
		return fmt.Sprintf("%q (%s)", label, node.Type)
	}
}

// buildDetailedContext 生成文档结构节点的详细上下文
func (s *ContextService) buildDetailedContext(node *models.Node, override map[string]string) *models.DetailedContext {
	outline := models.NewOutline(node.Structure.Sections)

	contentMap := make(map[string]string)
	for _, sec := range outline.Sections {
		if sec.HasContent() {
			contentMap[sec.ID] = sec.Content
		}
	}
	// 外部覆盖优先于节点自身内容
	for sectionID, content := range override {
		if content != "" {
			contentMap[sectionID] = content
		}
	}

	return &models.DetailedContext{
		Format:     node.Structure.Format,
		Outline:    outline.Sections,
		ContentMap: contentMap,
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
