// internal/services/retrieval_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/publo/canvas-orchestrator/internal/errors"
	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/retrieval"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

const (
	// FallbackUnavailable 该部署/语料没有检索索引
	FallbackUnavailable = "unavailable"
	// FallbackNoRelevantContent 索引存在但没有高于阈值的结果
	FallbackNoRelevantContent = "no relevant content found"

	// 原始回退读取的章节数和字符上限
	rawFallbackMaxSections = 3
	rawFallbackMaxChars    = 4000

	retrievalResultLimit = 5
)

// RAGStats 检索结果的可观测性统计
type RAGStats struct {
	Count         int     `json:"count"`
	AvgSimilarity float64 `json:"avg_similarity"`
}

// RetrievalResult 表示一次检索增强的结果
//
// HasRAG=false 是预期内状态，FallbackReason 说明降级原因；
// 调用方应降级到原始内容读取而不是报错。
type RetrievalResult struct {
	HasRAG         bool      `json:"has_rag"`
	RAGContent     string    `json:"rag_content,omitempty"`
	RAGStats       *RAGStats `json:"rag_stats,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}

// RetrievalService 提供节点内容的语义检索增强
type RetrievalService struct {
	index retrieval.Index // nil 表示该部署没有索引
}

// NewRetrievalService 创建检索增强服务
func NewRetrievalService(index retrieval.Index) *RetrievalService {
	return &RetrievalService{index: index}
}

// Enhance 尝试对目标节点做语义检索增强
//
// 索引不存在时静默降级（FallbackReason="unavailable"），绝不报错。
func (s *RetrievalService) Enhance(
	ctx context.Context,
	message, nodeID string,
	canvas *models.CanvasContext,
) *RetrievalResult {
	if s.index == nil || nodeID == "" {
		return &RetrievalResult{HasRAG: false, FallbackReason: FallbackUnavailable}
	}

	result, err := s.index.Search(ctx, nodeID, message, retrievalResultLimit)
	if err != nil {
		if errors.Is(err, retrieval.ErrUnavailable) || apperrors.IsRetrievalUnavailable(err) {
			return &RetrievalResult{HasRAG: false, FallbackReason: FallbackUnavailable}
		}
		// 检索失败按不可用处理，只记录不上抛
		utils.GetLogger().Warnf("检索查询失败，降级到原始内容: %v", err)
		return &RetrievalResult{HasRAG: false, FallbackReason: FallbackUnavailable}
	}

	if result.Count == 0 {
		return &RetrievalResult{HasRAG: false, FallbackReason: FallbackNoRelevantContent}
	}

	var sb strings.Builder
	for _, chunk := range result.Chunks {
		sb.WriteString(chunk.Content)
		sb.WriteString("\n\n")
	}

	return &RetrievalResult{
		HasRAG:     true,
		RAGContent: strings.TrimSpace(sb.String()),
		RAGStats: &RAGStats{
			Count:         result.Count,
			AvgSimilarity: result.AvgSimilarity,
		},
	}
}

// RawContentFallback 按大小上限读取节点的前几个已写章节
//
// 当 Enhance 报告 "no relevant content found" 时，调用方必须在
// 返回回答之前走这条原始读取路径。
func (s *RetrievalService) RawContentFallback(nodeID string, canvas *models.CanvasContext) string {
	node := canvas.FindNode(nodeID)
	if node == nil || node.DetailedContext == nil {
		return ""
	}

	var sb strings.Builder
	sections := 0
	for _, sec := range node.DetailedContext.Outline {
		content := node.DetailedContext.ContentMap[sec.ID]
		if content == "" {
			continue
		}
		entry := fmt.Sprintf("## %s\n%s\n\n", sec.Name, content)
		if sb.Len()+len(entry) > rawFallbackMaxChars {
			remaining := rawFallbackMaxChars - sb.Len()
			if remaining > 0 {
				sb.WriteString(entry[:remaining])
			}
			break
		}
		sb.WriteString(entry)
		sections++
		if sections >= rawFallbackMaxSections {
			break
		}
	}

	return strings.TrimSpace(sb.String())
}

// IndexSections 将文档结构节点的已写章节写入检索索引
//
// 没有索引时是空操作。供图服务持久化内容后增量调用。
func (s *RetrievalService) IndexSections(ctx context.Context, nodeID string, sections []models.Section) error {
	if s.index == nil {
		return nil
	}
	for _, sec := range sections {
		if !sec.HasContent() {
			continue
		}
		if err := s.index.Store(ctx, nodeID, sec.ID, sec.Content); err != nil {
			return fmt.Errorf("索引章节失败 %s: %w", sec.ID, err)
		}
	}
	return nil
}
