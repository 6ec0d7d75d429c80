// internal/services/context_builder_test.go
package services

import (
	"strings"
	"testing"

	"github.com/publo/canvas-orchestrator/internal/models"
)

func builderFixture() ([]models.Node, []models.Edge) {
	nodes := []models.Node{
		{ID: "orch", Type: models.NodeTypeOrchestrator, Label: "Orchestrator"},
		{
			ID: "doc-1", Type: models.NodeTypeDocumentStructure, Label: "Dragon Story",
			Structure: &models.StructurePayload{
				Format: "novel",
				Sections: []models.Section{
					{ID: "s1", Level: 1, Name: "Opening", Content: "written", Order: 0},
					{ID: "s2", Level: 1, Name: "Ending", Order: 1},
				},
			},
		},
		{
			ID: "char-1", Type: models.NodeTypeCharacter, Label: "Alice",
			Character: &models.CharacterPayload{Name: "Alice", Description: "A curious inventor"},
		},
		{ID: "isolated", Type: models.NodeTypeResearch, Label: "Unconnected"},
	}
	edges := []models.Edge{
		{SourceID: "doc-1", TargetID: "orch"},
		{SourceID: "char-1", TargetID: "orch"},
		{SourceID: "orch", TargetID: "isolated"}, // 出边不算上下文输入
	}
	return nodes, edges
}

func TestBuildCanvasContextOnlyInEdges(t *testing.T) {
	svc := NewContextService()
	nodes, edges := builderFixture()

	ctx := svc.BuildCanvasContext("orch", nodes, edges, nil)

	if ctx.TotalNodes != 4 {
		t.Errorf("TotalNodes 不对: got %d, want 4", ctx.TotalNodes)
	}
	if len(ctx.ConnectedNodes) != 2 {
		t.Fatalf("只有入边的源节点才应进入快照: got %d, want 2", len(ctx.ConnectedNodes))
	}
	for _, n := range ctx.ConnectedNodes {
		if n.NodeID == "isolated" {
			t.Error("出边目标节点不应进入快照")
		}
	}
}

func TestBuildCanvasContextDanglingEdgeSkipped(t *testing.T) {
	svc := NewContextService()
	nodes, edges := builderFixture()
	edges = append(edges, models.Edge{SourceID: "ghost", TargetID: "orch"})

	ctx := svc.BuildCanvasContext("orch", nodes, edges, nil)

	if len(ctx.ConnectedNodes) != 2 {
		t.Errorf("悬空边应被跳过而不是失败: got %d 个节点", len(ctx.ConnectedNodes))
	}
}

func TestBuildCanvasContextDedupe(t *testing.T) {
	svc := NewContextService()
	nodes, edges := builderFixture()
	edges = append(edges, models.Edge{SourceID: "doc-1", TargetID: "orch"})

	ctx := svc.BuildCanvasContext("orch", nodes, edges, nil)

	count := 0
	for _, n := range ctx.ConnectedNodes {
		if n.NodeID == "doc-1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("重复边不应产生重复节点: doc-1 出现 %d 次", count)
	}
}

func TestBuildCanvasContextEmptyInputs(t *testing.T) {
	svc := NewContextService()

	if ctx := svc.BuildCanvasContext("", nil, nil, nil); !ctx.IsEmpty() {
		t.Error("缺少编排器ID时应返回空快照")
	}
	nodes, edges := builderFixture()
	if ctx := svc.BuildCanvasContext("unknown", nodes, edges, nil); !ctx.IsEmpty() {
		t.Error("没有指向编排器的边时应返回空快照")
	}
}

func TestBuildSummaryStrings(t *testing.T) {
	svc := NewContextService()
	nodes, edges := builderFixture()

	ctx := svc.BuildCanvasContext("orch", nodes, edges, nil)

	doc := ctx.FindNode("doc-1")
	if doc == nil {
		t.Fatal("doc-1 应在快照中")
	}
	if doc.Summary != `novel "Dragon Story" (document structure, 1/2 sections written)` {
		t.Errorf("文档结构摘要不对: %s", doc.Summary)
	}

	char := ctx.FindNode("char-1")
	if char == nil {
		t.Fatal("char-1 应在快照中")
	}
	if !strings.Contains(char.Summary, `"Alice" (character)`) || !strings.Contains(char.Summary, "curious inventor") {
		t.Errorf("角色摘要不对: %s", char.Summary)
	}
}

func TestBuildDetailedContextOverridePriority(t *testing.T) {
	svc := NewContextService()
	nodes, edges := builderFixture()

	overrides := ContentOverrides{
		"doc-1": {
			"s1": "overridden text", // 覆盖已有内容
			"s2": "newly persisted", // 节点负载里还没有的新内容
		},
	}

	ctx := svc.BuildCanvasContext("orch", nodes, edges, overrides)

	doc := ctx.FindNode("doc-1")
	if doc == nil || doc.DetailedContext == nil {
		t.Fatal("文档结构节点应带详细上下文")
	}

	cm := doc.DetailedContext.ContentMap
	if cm["s1"] != "overridden text" {
		t.Errorf("外部覆盖应优先于节点内容: got %q", cm["s1"])
	}
	if cm["s2"] != "newly persisted" {
		t.Errorf("覆盖应补充未写章节的内容: got %q", cm["s2"])
	}

	// 覆盖也计入摘要里的已写统计
	if doc.Summary != `novel "Dragon Story" (document structure, 2/2 sections written)` {
		t.Errorf("覆盖后的摘要统计不对: %s", doc.Summary)
	}
}

func TestBuildDetailedContextOnlyForStructureNodes(t *testing.T) {
	svc := NewContextService()
	nodes, edges := builderFixture()

	ctx := svc.BuildCanvasContext("orch", nodes, edges, nil)

	if char := ctx.FindNode("char-1"); char.DetailedContext != nil {
		t.Error("非文档结构节点不应有详细上下文")
	}
	if doc := ctx.FindNode("doc-1"); doc.DetailedContext == nil {
		t.Error("文档结构节点应有详细上下文")
	}
}
