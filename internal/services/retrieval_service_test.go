// internal/services/retrieval_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/retrieval"
)

// fakeIndex 测试用的检索索引
type fakeIndex struct {
	result *retrieval.SearchResult
	err    error
	stored []string
}

func (f *fakeIndex) Search(_ context.Context, _, _ string, _ int) (*retrieval.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeIndex) Store(_ context.Context, _, sectionID, _ string) error {
	f.stored = append(f.stored, sectionID)
	return nil
}

func (f *fakeIndex) Close() error { return nil }

func TestEnhanceWithoutIndex(t *testing.T) {
	svc := NewRetrievalService(nil)

	result := svc.Enhance(context.Background(), "what happens next", "doc-1", newTestCanvas())
	if result.HasRAG {
		t.Error("没有索引时不应有检索增强")
	}
	if result.FallbackReason != FallbackUnavailable {
		t.Errorf("降级原因应为 %q: got %q", FallbackUnavailable, result.FallbackReason)
	}
}

func TestEnhanceIndexUnavailable(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{err: retrieval.ErrUnavailable})

	result := svc.Enhance(context.Background(), "query", "doc-1", newTestCanvas())
	if result.HasRAG || result.FallbackReason != FallbackUnavailable {
		t.Errorf("索引不可用应静默降级: %+v", result)
	}
}

func TestEnhanceSearchErrorDegrades(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{err: errors.New("disk on fire")})

	// 检索失败绝不上抛，按不可用处理
	result := svc.Enhance(context.Background(), "query", "doc-1", newTestCanvas())
	if result.HasRAG || result.FallbackReason != FallbackUnavailable {
		t.Errorf("检索失败应按不可用降级: %+v", result)
	}
}

func TestEnhanceNoRelevantContent(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{result: &retrieval.SearchResult{Count: 0}})

	result := svc.Enhance(context.Background(), "query", "doc-1", newTestCanvas())
	if result.HasRAG {
		t.Error("无结果时不应有检索增强")
	}
	if result.FallbackReason != FallbackNoRelevantContent {
		t.Errorf("降级原因应为 %q: got %q", FallbackNoRelevantContent, result.FallbackReason)
	}
}

func TestEnhanceSuccess(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{result: &retrieval.SearchResult{
		Chunks: []retrieval.Chunk{
			{Content: "the dragon wakes", Similarity: 0.8},
			{Content: "the hero arrives", Similarity: 0.6},
		},
		Count:         2,
		AvgSimilarity: 0.7,
	}})

	result := svc.Enhance(context.Background(), "dragon", "doc-1", newTestCanvas())
	if !result.HasRAG {
		t.Fatal("有结果时应报告检索增强")
	}
	if !strings.Contains(result.RAGContent, "the dragon wakes") || !strings.Contains(result.RAGContent, "the hero arrives") {
		t.Errorf("增强内容应拼接全部结果块: %q", result.RAGContent)
	}
	if result.RAGStats == nil || result.RAGStats.Count != 2 || result.RAGStats.AvgSimilarity != 0.7 {
		t.Errorf("检索统计不对: %+v", result.RAGStats)
	}
}

func TestEnhanceEmptyNodeID(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{})
	result := svc.Enhance(context.Background(), "query", "", newTestCanvas())
	if result.HasRAG || result.FallbackReason != FallbackUnavailable {
		t.Errorf("没有目标节点时应降级: %+v", result)
	}
}

func TestRawContentFallbackLimits(t *testing.T) {
	svc := NewRetrievalService(nil)

	// 5 个已写章节，只应读取前 3 个
	sections := []models.Section{
		{ID: "s1", Level: 1, Name: "One", Content: "alpha", Order: 0},
		{ID: "s2", Level: 1, Name: "Two", Content: "beta", Order: 1},
		{ID: "s3", Level: 1, Name: "Three", Content: "gamma", Order: 2},
		{ID: "s4", Level: 1, Name: "Four", Content: "delta", Order: 3},
		{ID: "s5", Level: 1, Name: "Five", Content: "epsilon", Order: 4},
	}
	contentMap := map[string]string{}
	for _, s := range sections {
		contentMap[s.ID] = s.Content
	}
	canvas := &models.CanvasContext{
		TotalNodes: 1,
		ConnectedNodes: []models.ConnectedNode{{
			NodeID:   "doc-1",
			NodeType: models.NodeTypeDocumentStructure,
			DetailedContext: &models.DetailedContext{
				Outline:    sections,
				ContentMap: contentMap,
			},
		}},
	}

	text := svc.RawContentFallback("doc-1", canvas)
	for _, want := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(text, want) {
			t.Errorf("前三个章节的内容应在回退文本中: 缺少 %q", want)
		}
	}
	for _, unwanted := range []string{"delta", "epsilon"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("超出章节上限的内容不应出现: %q", unwanted)
		}
	}
}

func TestRawContentFallbackCharLimit(t *testing.T) {
	svc := NewRetrievalService(nil)

	big := strings.Repeat("x", 5000)
	canvas := &models.CanvasContext{
		TotalNodes: 1,
		ConnectedNodes: []models.ConnectedNode{{
			NodeID:   "doc-1",
			NodeType: models.NodeTypeDocumentStructure,
			DetailedContext: &models.DetailedContext{
				Outline:    []models.Section{{ID: "s1", Name: "Big", Content: big, Order: 0}},
				ContentMap: map[string]string{"s1": big},
			},
		}},
	}

	text := svc.RawContentFallback("doc-1", canvas)
	if len(text) > rawFallbackMaxChars {
		t.Errorf("回退文本超出字符上限: %d > %d", len(text), rawFallbackMaxChars)
	}
}

func TestRawContentFallbackMissingNode(t *testing.T) {
	svc := NewRetrievalService(nil)
	if text := svc.RawContentFallback("missing", newTestCanvas()); text != "" {
		t.Errorf("不存在的节点应返回空串: %q", text)
	}
	if text := svc.RawContentFallback("char-1", newTestCanvas()); text != "" {
		t.Errorf("没有详细上下文的节点应返回空串: %q", text)
	}
}

func TestIndexSectionsSkipsUnwritten(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewRetrievalService(idx)

	sections := []models.Section{
		{ID: "s1", Content: "written"},
		{ID: "s2"},
		{ID: "s3", Content: "also written"},
	}
	if err := svc.IndexSections(context.Background(), "doc-1", sections); err != nil {
		t.Fatalf("索引章节失败: %v", err)
	}
	if len(idx.stored) != 2 {
		t.Errorf("只应索引已写章节: got %v", idx.stored)
	}

	// 没有索引时是空操作
	none := NewRetrievalService(nil)
	if err := none.IndexSections(context.Background(), "doc-1", sections); err != nil {
		t.Errorf("无索引时应为空操作: %v", err)
	}
}
