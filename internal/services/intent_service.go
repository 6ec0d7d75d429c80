// internal/services/intent_service.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

// ClassificationContext 分类时的工作区状态快照
type ClassificationContext struct {
	Message        string
	ActiveSection  *models.ActiveSection
	DocumentOpen   bool
	DocumentFormat string
	Outline        *models.Outline
	Canvas         *models.CanvasContext
	History        []models.ChatMessage
}

// ClassifierStrategy 定义一条分类路径
//
// 快速路径返回 nil 表示"无法判定，交给下一条路径"，不是错误。
type ClassifierStrategy interface {
	Classify(ctx context.Context, cc *ClassificationContext) (*models.IntentResult, error)
	Name() string
}

// 快速路径的正则模式，按优先级分组
var (
	navigatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)go to|jump to|navigate to|take me to|show me|find the`),
	}
	writePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(write|expand|continue|generate|create content|fill in|draft)\b`),
	}
	// 选中章节时"add a scene/paragraph"是往该章节里添笔，不是改结构。
	// 名词表只收正文素材，章节类名词（chapter/act/section）仍走结构修改。
	additiveWritePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(add|insert|include)\b.*\b(scene|paragraph|beat|moment|passage|dialogue|line|detail|description|sentence)\b`),
	}
	rewriteCoherencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(rewrite|update|change).*(coherent|consistent|flow|match)`),
		regexp.MustCompile(`(?i)make (it |this |them )?(all )?(coherent|consistent|flow)`),
	}
	improvePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(improve|enhance|refine|polish|make (it )?better|fix)\b`),
	}
	deletePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(delete|remove|discard|trash|get rid of)\b`),
	}
	answerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(what|who|where|when|why|how|can you|could you|tell me|explain)\b`),
		regexp.MustCompile(`\?$`),
	}
	openAndWritePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(write|expand|continue).*(in|for|on) (the |my )?`),
	}
	modifyStructurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(add|insert|move|reorder|reorganize|restructure)`),
		regexp.MustCompile(`(?i)(new|another) (chapter|scene|act|section|part)`),
	}

	// 只有文档面板关闭时才匹配的结构创建模式
	structureCreationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(create|start|begin|make|build|write)\b.*(novel|story|book|screenplay|script|podcast|report)`),
		regexp.MustCompile(`(?i)\b(novel|story|book|screenplay|script|podcast|report)\b.*(about|on|regarding)`),
		regexp.MustCompile(`(?i)^(a |the )?(new )?(novel|story|book|screenplay|script|podcast|report)`),
	}

	// 含复杂从句的消息直接交给深度路径
	complexPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(like|similar to|based on|inspired by)`),
		regexp.MustCompile(`(?i)\b(but|however|although|except)\b`),
		regexp.MustCompile(`(?i)\b(if|when|unless|until)\b`),
	}
)

func anyMatch(patterns []*regexp.Regexp, message string) bool {
	for _, p := range patterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}

// PatternClassifier 基于正则的快速分类路径
//
// 高置信匹配直接返回结果，省掉一次LLM调用；无法判定时返回 nil。
type PatternClassifier struct{}

// NewPatternClassifier 创建快速分类器
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

func (c *PatternClassifier) Name() string {
	return "pattern"
}

// Classify 按优先级依次套用模式
//
// 优先级顺序是行为的一部分：选中章节时 "write" 胜过 "improve"，
// 面板打开时导航胜过一切。
func (c *PatternClassifier) Classify(_ context.Context, cc *ClassificationContext) (*models.IntentResult, error) {
	message := cc.Message
	hasActiveSection := cc.ActiveSection != nil

	// 优先级0：文档打开时的导航
	if cc.DocumentOpen && anyMatch(navigatePatterns, message) {
		format := cc.DocumentFormat
		if format == "" {
			format = "document"
		}
		return &models.IntentResult{
			Intent:          models.IntentNavigateSection,
			Confidence:      0.95,
			Reasoning:       fmt.Sprintf("User wants to navigate to a specific section within the currently open %s", format),
			SuggestedAction: fmt.Sprintf("Find and select the requested section: %q", message),
			SuggestedModel:  models.ModelOrchestrator,
		}, nil
	}

	// 优先级1：选中章节时的内容操作
	if hasActiveSection {
		sectionName := cc.ActiveSection.Name
		if sectionName == "" {
			sectionName = "selected section"
		}

		if anyMatch(writePatterns, message) {
			return &models.IntentResult{
				Intent:          models.IntentWriteContent,
				Confidence:      0.95,
				Reasoning:       fmt.Sprintf("User explicitly requested content generation for %q with keywords like \"write\", \"expand\", or \"continue\"", sectionName),
				SuggestedAction: fmt.Sprintf("Generate content for the selected section: %q", sectionName),
				RequiresContext: true,
				SuggestedModel:  models.ModelWriter,
			}, nil
		}

		if anyMatch(additiveWritePatterns, message) {
			return &models.IntentResult{
				Intent:          models.IntentWriteContent,
				Confidence:      0.9,
				Reasoning:       fmt.Sprintf("User wants to add new material inside the selected section %q", sectionName),
				SuggestedAction: fmt.Sprintf("Generate the requested addition within: %q", sectionName),
				RequiresContext: true,
				SuggestedModel:  models.ModelWriter,
			}, nil
		}

		if anyMatch(rewriteCoherencePatterns, message) {
			return &models.IntentResult{
				Intent:          models.IntentRewriteWithCoherence,
				Confidence:      0.95,
				Reasoning:       fmt.Sprintf("User wants multi-section operation: modify %q and/or other sections (coherence/batch generation)", sectionName),
				SuggestedAction: "Analyze dependencies, write/rewrite sections, and ensure story consistency",
				RequiresContext: true,
				SuggestedModel:  models.ModelOrchestrator,
			}, nil
		}

		if anyMatch(improvePatterns, message) {
			return &models.IntentResult{
				Intent:          models.IntentImproveContent,
				Confidence:      0.9,
				Reasoning:       fmt.Sprintf("User wants to improve existing content in %q", sectionName),
				SuggestedAction: fmt.Sprintf("Refine and enhance the content in: %q", sectionName),
				RequiresContext: true,
				SuggestedModel:  models.ModelEditor,
			}, nil
		}
	}

	// 优先级2：删除节点
	if anyMatch(deletePatterns, message) {
		return &models.IntentResult{
			Intent:          models.IntentDeleteNode,
			Confidence:      0.9,
			Reasoning:       "User wants to delete/remove a canvas node",
			SuggestedAction: "Identify which node to delete and confirm with user",
			SuggestedModel:  models.ModelOrchestrator,
		}, nil
	}

	// 优先级3：回答问题
	if anyMatch(answerPatterns, message) {
		return &models.IntentResult{
			Intent:          models.IntentAnswerQuestion,
			Confidence:      0.9,
			Reasoning:       "User is asking for explanation or information based on interrogative patterns",
			SuggestedAction: "Answer the user's question using orchestrator model in chat",
			SuggestedModel:  models.ModelOrchestrator,
		}, nil
	}

	// 优先级4：面板关闭、无选中章节、画布上有节点时的打开并写入
	if !cc.DocumentOpen && !hasActiveSection && cc.Canvas != nil && !cc.Canvas.IsEmpty() {
		if anyMatch(openAndWritePatterns, message) {
			return &models.IntentResult{
				Intent:          models.IntentOpenAndWrite,
				Confidence:      0.95,
				Reasoning:       "User wants to write content in an existing canvas node - will auto-open document",
				SuggestedAction: "Open the referenced document and prepare for content writing",
				SuggestedModel:  models.ModelOrchestrator,
			}, nil
		}
	}

	// 优先级5：面板关闭时的结构创建
	if !cc.DocumentOpen && !hasActiveSection && anyMatch(structureCreationPatterns, message) {
		return &models.IntentResult{
			Intent:          models.IntentCreateStructure,
			Confidence:      0.9,
			Reasoning:       "User wants to create a new story structure from scratch (document panel is closed)",
			SuggestedAction: "Generate a complete story structure using orchestrator model",
			SuggestedModel:  models.ModelOrchestrator,
		}, nil
	}

	// 优先级6：结构修改
	if anyMatch(modifyStructurePatterns, message) {
		return &models.IntentResult{
			Intent:          models.IntentModifyStructure,
			Confidence:      0.85,
			Reasoning:       "User wants to modify the existing story structure",
			SuggestedAction: "Update the story structure based on user request",
			SuggestedModel:  models.ModelOrchestrator,
		}, nil
	}

	// 复杂从句或无任何匹配：交给深度路径
	return nil, nil
}

// IntentService 混合快慢双路径的意图分类服务
//
// Analyze 永不失败：深度路径异常时退回快速路径，仍无结果时退回
// 带澄清标记的 general_chat 兜底。
type IntentService struct {
	fast ClassifierStrategy
	deep ClassifierStrategy
}

// NewIntentService 创建意图分类服务
//
// deep 可以为 nil（LLM未配置的部署），此时只走快速路径和兜底。
func NewIntentService(fast, deep ClassifierStrategy) *IntentService {
	return &IntentService{fast: fast, deep: deep}
}

// Analyze 对消息做意图分类
//
// deepFirst 决定先走哪条路径；先走的失败或无法判定时换另一条。
func (s *IntentService) Analyze(ctx context.Context, cc *ClassificationContext, deepFirst bool) *models.IntentResult {
	strategies := []ClassifierStrategy{s.fast, s.deep}
	if deepFirst {
		strategies = []ClassifierStrategy{s.deep, s.fast}
	}

	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		result, err := strategy.Classify(ctx, cc)
		if err != nil {
			utils.GetLogger().Warnf("分类路径 %s 异常: %v", strategy.Name(), err)
			continue
		}
		if result != nil {
			return result
		}
	}

	// 兜底：不阻断会话，标记需要澄清
	return &models.IntentResult{
		Intent:             models.IntentGeneralChat,
		Confidence:         0.3,
		Reasoning:          "Could not determine a specific intent from the message",
		SuggestedAction:    "Respond conversationally and ask what the user would like to do",
		SuggestedModel:     models.ModelOrchestrator,
		NeedsClarification: true,
		ClarifyingQuestion: "Could you tell me a bit more about what you'd like to do?",
	}
}

// ValidateIntent 校验意图在当前状态下是否可执行
//
// 纯函数：失败时返回错误说明和建议，绝不改变任何状态。
func (s *IntentService) ValidateIntent(
	result *models.IntentResult,
	cc *ClassificationContext,
) *models.ValidationResult {
	switch result.Intent {
	case models.IntentWriteContent, models.IntentImproveContent:
		if cc.ActiveSection != nil {
			return &models.ValidationResult{CanExecute: true}
		}
		// 没有选中章节：尝试从消息里按名字解析
		if cc.Outline != nil {
			if sec := resolveSectionByMessage(cc.Outline, cc.Message); sec != nil {
				return &models.ValidationResult{CanExecute: true}
			}
		}
		return &models.ValidationResult{
			CanExecute:   false,
			ErrorMessage: "No section is selected and none could be identified from the message",
			Suggestion:   "Select a section in the document, or name the section you want to work on",
		}

	case models.IntentRewriteWithCoherence:
		if cc.ActiveSection == nil {
			return &models.ValidationResult{
				CanExecute:   false,
				ErrorMessage: "A coherence rewrite needs a target section",
				Suggestion:   "Select the section you changed, then ask again",
			}
		}
		if cc.Outline == nil || len(cc.Outline.Sections) == 0 {
			return &models.ValidationResult{
				CanExecute:   false,
				ErrorMessage: "No document structure is available to rewrite",
				Suggestion:   "Open a document with sections first",
			}
		}
		return &models.ValidationResult{CanExecute: true}

	case models.IntentNavigateSection:
		if !cc.DocumentOpen {
			return &models.ValidationResult{
				CanExecute:   false,
				ErrorMessage: "No document is open to navigate in",
				Suggestion:   "Open a document first, or ask me to open one",
			}
		}
		return &models.ValidationResult{CanExecute: true}

	case models.IntentModifyStructure:
		if cc.Outline == nil || len(cc.Outline.Sections) == 0 {
			if cc.Canvas == nil || cc.Canvas.FirstOfType(models.NodeTypeDocumentStructure) == nil {
				return &models.ValidationResult{
					CanExecute:   false,
					ErrorMessage: "There is no document structure to modify",
					Suggestion:   "Create a structure first, e.g. \"create a novel about ...\"",
				}
			}
		}
		return &models.ValidationResult{CanExecute: true}

	case models.IntentOpenAndWrite, models.IntentDeleteNode:
		if cc.Canvas == nil || cc.Canvas.IsEmpty() {
			return &models.ValidationResult{
				CanExecute:   false,
				ErrorMessage: "There are no connected nodes on the canvas",
				Suggestion:   "Connect a node to the orchestrator first",
			}
		}
		return &models.ValidationResult{CanExecute: true}

	default:
		return &models.ValidationResult{CanExecute: true}
	}
}

// resolveSectionByMessage 尝试按消息里出现的章节名定位章节
func resolveSectionByMessage(outline *models.Outline, message string) *models.Section {
	lower := strings.ToLower(message)
	for i := range outline.Sections {
		name := strings.ToLower(outline.Sections[i].Name)
		if name != "" && strings.Contains(lower, name) {
			return &outline.Sections[i]
		}
	}
	return nil
}

// NeedsDeepPath 判断消息是否含有应直接走深度路径的复杂从句
func NeedsDeepPath(message string) bool {
	return anyMatch(complexPatterns, message)
}
