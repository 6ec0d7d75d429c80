// internal/services/reference_service.go
package services

import (
	"regexp"
	"strings"

	"github.com/publo/canvas-orchestrator/internal/models"
)

// 会话回溯窗口：只在最近几条消息里找被讨论过的节点
const referenceHistoryWindow = 5

// 复数/全量引用模式（"all our stories", "these documents"）
var pluralReferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\ball\b.*\b(stories|story nodes|documents|docs|nodes|chapters|sections)\b`),
	regexp.MustCompile(`(?i)\b(these|those)\s+(stories|documents|docs|nodes|chapters|sections)\b`),
	regexp.MustCompile(`(?i)\beverything\s+(on|in)\s+(the\s+)?canvas\b`),
	regexp.MustCompile(`(?i)\bevery\s+(story|document|node|section)\b`),
}

// 单数引用模式（"that story", "the interview one", "this document"）
var singularReferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(that|this|the|my|our)\s+(story|novel|book|screenplay|script|podcast|report|document|doc|structure|outline|character|research|one)\b`),
	regexp.MustCompile(`(?i)\bthe\s+\w+\s+one\b`),
}

// 引用词 -> 节点类型的偏好映射
var referenceTypeHints = map[string]models.NodeType{
	"story":      models.NodeTypeDocumentStructure,
	"novel":      models.NodeTypeDocumentStructure,
	"book":       models.NodeTypeDocumentStructure,
	"screenplay": models.NodeTypeDocumentStructure,
	"script":     models.NodeTypeDocumentStructure,
	"podcast":    models.NodeTypeDocumentStructure,
	"report":     models.NodeTypeDocumentStructure,
	"document":   models.NodeTypeDocumentStructure,
	"doc":        models.NodeTypeDocumentStructure,
	"structure":  models.NodeTypeDocumentStructure,
	"outline":    models.NodeTypeDocumentStructure,
	"character":  models.NodeTypeCharacter,
	"research":   models.NodeTypeResearch,
}

// ReferenceResult 表示一次引用解析的结果
type ReferenceResult struct {
	NodeID string `json:"node_id,omitempty"` // 解析出的节点；Plural 时为空
	Plural bool   `json:"plural"`            // 指向全部相连节点
}

// ReferenceService 把消息里的模糊引用解析到相连节点
//
// 解析是幂等的：相同的 (message, context, history) 总是得到相同结果。
// 返回 nil 表示"没有引用，使用默认上下文"，不是错误。
type ReferenceService struct{}

// NewReferenceService 创建引用解析服务
func NewReferenceService() *ReferenceService {
	return &ReferenceService{}
}

// Resolve 解析消息中的节点引用
//
// 评分阶梯：标签精确匹配 > 标签部分匹配 > 最近会话中被讨论 >
// 第一个相连节点；并列时按会话新近度取胜。
func (s *ReferenceService) Resolve(
	message string,
	canvas *models.CanvasContext,
	history []models.ChatMessage,
) *ReferenceResult {
	if canvas.IsEmpty() {
		return nil
	}

	// 复数引用优先：返回"全部节点"而不是单个ID
	for _, pattern := range pluralReferencePatterns {
		if pattern.MatchString(message) {
			return &ReferenceResult{Plural: true}
		}
	}

	recent := recentWindow(history, referenceHistoryWindow)

	type scored struct {
		nodeID  string
		score   int
		recency int // 越小越新；用于并列打破
	}

	lowerMessage := strings.ToLower(message)
	hasReferencePhrase := false
	for _, pattern := range singularReferencePatterns {
		if pattern.MatchString(message) {
			hasReferencePhrase = true
			break
		}
	}

	var candidates []scored
	for i, node := range canvas.ConnectedNodes {
		sc := scored{nodeID: node.NodeID, recency: len(recent) + 1 + i}

		label := strings.ToLower(strings.TrimSpace(node.Label))
		switch {
		case label != "" && strings.Contains(lowerMessage, label):
			sc.score = 100
		case label != "" && partialLabelMatch(lowerMessage, label):
			sc.score = 60
		}

		// 类型提示："that story" 偏向文档结构节点
		if sc.score == 0 && hasReferencePhrase && typeHintMatches(lowerMessage, node.NodeType) {
			sc.score = 40
		}

		// 会话新近度：最近被讨论过的节点
		if idx := lastMentionIndex(recent, node.Label); idx >= 0 {
			sc.recency = len(recent) - idx
			if sc.score == 0 {
				sc.score = 20
			}
		}

		candidates = append(candidates, sc)
	}

	best := -1
	for i, c := range candidates {
		if c.score == 0 {
			continue
		}
		if best == -1 || c.score > candidates[best].score ||
			(c.score == candidates[best].score && c.recency < candidates[best].recency) {
			best = i
		}
	}

	if best >= 0 {
		return &ReferenceResult{NodeID: candidates[best].nodeID}
	}

	// 有引用措辞但没有任何匹配：退回第一个相连节点
	if hasReferencePhrase {
		return &ReferenceResult{NodeID: canvas.ConnectedNodes[0].NodeID}
	}

	// 消息里没有任何像引用的措辞
	return nil
}

// recentWindow 取最近 n 条消息
func recentWindow(history []models.ChatMessage, n int) []models.ChatMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// partialLabelMatch 检查标签的任一有效词是否出现在消息中
func partialLabelMatch(lowerMessage, lowerLabel string) bool {
	for _, word := range strings.Fields(lowerLabel) {
		if len(word) >= 4 && strings.Contains(lowerMessage, word) {
			return true
		}
	}
	return false
}

// typeHintMatches 检查消息里的引用词是否偏向该节点类型
func typeHintMatches(lowerMessage string, nodeType models.NodeType) bool {
	for _, word := range strings.Fields(lowerMessage) {
		word = strings.Trim(word, ".,!?\"'")
		if hintType, ok := referenceTypeHints[word]; ok && hintType == nodeType {
			return true
		}
	}
	return false
}

// lastMentionIndex 返回标签最后一次出现在窗口中的下标，未出现返回 -1
func lastMentionIndex(recent []models.ChatMessage, label string) int {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return -1
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(recent[i].Content), label) {
			return i
		}
	}
	return -1
}
