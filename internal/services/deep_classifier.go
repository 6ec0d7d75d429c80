// internal/services/deep_classifier.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/publo/canvas-orchestrator/internal/errors"
	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

const deepClassifierSystemPrompt = `You are an intent analyzer for Publo, a creative writing platform.

Your job is to analyze user messages and determine their intent. The possible intents are:

STRUCTURE INTENTS (creating/modifying document structure):
- create_structure: User wants to create a new story/document from scratch
- modify_structure: User wants to add, remove, or reorganize sections

CONTENT INTENTS (writing/editing content):
- write_content: User wants to generate new content for a section
- improve_content: User wants to refine/polish existing content
- rewrite_with_coherence: User wants to update content while maintaining consistency

NAVIGATION INTENTS:
- navigate_section: User wants to jump to a specific section
- open_and_write: User wants to open a document and write in it

OTHER INTENTS:
- answer_question: User is asking a question (not requesting an action)
- delete_node: User wants to delete something
- general_chat: General conversation, doesn't fit other categories

CONTEXT INFORMATION:
%s

IMPORTANT:
- Return ONLY valid JSON matching the schema
- Be concise in reasoning (1-2 sentences)
- Confidence should reflect certainty (0.5 = unsure, 0.9+ = very confident)
- If truly ambiguous, set needsClarification=true and provide a clarifyingQuestion`

const deepClassifierUserPrompt = `Analyze this user message and determine the intent:

%q

Return your analysis as JSON with these fields:
- intent: string (one of the intents listed above)
- confidence: number (0.0 to 1.0)
- reasoning: string (brief explanation)
- suggestedAction: string (what to do)
- requiresContext: boolean
- suggestedModel: string ("orchestrator", "writer", or "editor")
- needsClarification: boolean
- clarifyingQuestion: string or null
- extractedEntities: object (any extracted names, numbers, etc.)

JSON response:`

// LLM返回的原始JSON结构
type deepIntentPayload struct {
	Intent             string            `json:"intent"`
	Confidence         float64           `json:"confidence"`
	Reasoning          string            `json:"reasoning"`
	SuggestedAction    string            `json:"suggestedAction"`
	RequiresContext    bool              `json:"requiresContext"`
	SuggestedModel     string            `json:"suggestedModel"`
	NeedsClarification bool              `json:"needsClarification"`
	ClarifyingQuestion string            `json:"clarifyingQuestion"`
	ExtractedEntities  map[string]string `json:"extractedEntities"`
}

var knownIntents = map[models.UserIntent]bool{
	models.IntentCreateStructure:      true,
	models.IntentModifyStructure:      true,
	models.IntentWriteContent:         true,
	models.IntentImproveContent:       true,
	models.IntentRewriteWithCoherence: true,
	models.IntentNavigateSection:      true,
	models.IntentOpenAndWrite:         true,
	models.IntentDeleteNode:           true,
	models.IntentAnswerQuestion:       true,
	models.IntentGeneralChat:          true,
	models.IntentClarify:              true,
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// DeepClassifier 基于LLM的深度分类路径
//
// 处理快速路径放弃的复杂消息。LLM调用或解析失败都降级为带澄清
// 标记的 general_chat，永不阻断会话。
type DeepClassifier struct {
	llmService *LLMService
	model      string
}

// NewDeepClassifier 创建深度分类器
//
// model 为空时按 orchestrator 角色解析模型。
func NewDeepClassifier(llmService *LLMService, model string) *DeepClassifier {
	return &DeepClassifier{llmService: llmService, model: model}
}

func (c *DeepClassifier) Name() string {
	return "deep"
}

// Classify 调用LLM做深度意图分析
func (c *DeepClassifier) Classify(ctx context.Context, cc *ClassificationContext) (*models.IntentResult, error) {
	if c.llmService == nil || !c.llmService.IsReady() {
		return nil, apperrors.NewClassificationError("深度分类路径不可用：LLM未就绪", ErrLLMNotReady)
	}

	model := c.model
	if model == "" {
		model = c.llmService.ModelForRole(models.ModelOrchestrator)
	}

	req := llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(deepClassifierSystemPrompt, c.buildContextSection(cc)),
		Prompt:       fmt.Sprintf(deepClassifierUserPrompt, cc.Message),
		Model:        model,
		Temperature:  0.2,
		MaxTokens:    1000,
	}

	resp, err := c.llmService.CompleteText(ctx, req)
	if err != nil {
		return nil, apperrors.WrapError(err, "深度意图分析调用失败", apperrors.ErrorTypeClassification)
	}

	result, err := parseDeepResponse(resp.Text)
	if err != nil {
		utils.GetLogger().Warnf("深度分析响应解析失败: %v", err)
		return c.fallbackResult(), nil
	}

	return result, nil
}

// buildContextSection 把工作区状态渲染成提示词的上下文段落
func (c *DeepClassifier) buildContextSection(cc *ClassificationContext) string {
	var lines []string

	if cc.DocumentOpen {
		format := cc.DocumentFormat
		if format == "" {
			format = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- Document panel is OPEN (format: %s)", format))
		if cc.ActiveSection != nil {
			lines = append(lines, fmt.Sprintf("- Active section: %q (level %d)", cc.ActiveSection.Name, cc.ActiveSection.Level))
		}
	} else {
		lines = append(lines, "- Document panel is CLOSED (user is on canvas view)")
	}

	if cc.Canvas != nil && cc.Canvas.TotalNodes > 0 {
		lines = append(lines, fmt.Sprintf("- Canvas has %d nodes", cc.Canvas.TotalNodes))
		if len(cc.Canvas.ConnectedNodes) > 0 {
			var names []string
			for i, node := range cc.Canvas.ConnectedNodes {
				if i >= 3 {
					break
				}
				names = append(names, node.Label)
			}
			lines = append(lines, "- Connected documents: "+strings.Join(names, ", "))
		}
	}

	if len(cc.History) > 0 {
		recent := recentWindow(cc.History, 3)
		lines = append(lines, "- Recent conversation:")
		for _, msg := range recent {
			content := msg.Content
			if len(content) > 100 {
				content = content[:100]
			}
			lines = append(lines, fmt.Sprintf("  [%s]: %s...", msg.Role, content))
		}
	}

	if len(lines) == 0 {
		return "No additional context available."
	}
	return strings.Join(lines, "\n")
}

// fallbackResult 解析失败时的兜底结果
func (c *DeepClassifier) fallbackResult() *models.IntentResult {
	return &models.IntentResult{
		Intent:             models.IntentGeneralChat,
		Confidence:         0.3,
		Reasoning:          "Deep analysis failed, defaulting to conversation",
		SuggestedAction:    "Respond conversationally and ask for clarification",
		SuggestedModel:     models.ModelOrchestrator,
		NeedsClarification: true,
		ClarifyingQuestion: "I'm not sure I understood your request. Could you please clarify what you'd like me to do?",
		UsedDeepPath:       true,
	}
}

// parseDeepResponse 解析LLM响应为意图结果
//
// 容忍几种常见格式：裸JSON、markdown代码块包裹、前后带说明文字。
func parseDeepResponse(text string) (*models.IntentResult, error) {
	content := strings.TrimSpace(text)

	if strings.HasPrefix(content, "```") {
		parts := strings.SplitN(content, "```", 3)
		if len(parts) >= 2 {
			content = parts[1]
		}
		content = strings.TrimPrefix(content, "json")
		content = strings.TrimSpace(content)
	}

	if !strings.HasPrefix(content, "{") {
		if match := jsonObjectPattern.FindString(content); match != "" {
			content = match
		}
	}

	var payload deepIntentPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("响应不是合法JSON: %w", err)
	}

	intent := models.UserIntent(payload.Intent)
	if !knownIntents[intent] {
		intent = models.IntentGeneralChat
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	suggestedModel := models.SuggestedModel(payload.SuggestedModel)
	switch suggestedModel {
	case models.ModelOrchestrator, models.ModelWriter, models.ModelEditor:
	default:
		suggestedModel = models.ModelOrchestrator
	}

	reasoning := payload.Reasoning
	if reasoning == "" {
		reasoning = "Deep analysis completed"
	}
	suggestedAction := payload.SuggestedAction
	if suggestedAction == "" {
		suggestedAction = "Process the request"
	}

	return &models.IntentResult{
		Intent:             intent,
		Confidence:         confidence,
		Reasoning:          reasoning,
		SuggestedAction:    suggestedAction,
		RequiresContext:    payload.RequiresContext,
		SuggestedModel:     suggestedModel,
		NeedsClarification: payload.NeedsClarification,
		ClarifyingQuestion: payload.ClarifyingQuestion,
		ExtractedEntities:  payload.ExtractedEntities,
		UsedDeepPath:       true,
	}, nil
}
