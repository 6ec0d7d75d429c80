// internal/services/orchestrator_service.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

// OrchestrateRequest 一次编排调用的完整输入
//
// 图快照由调用方提供，核心只读；同一画布的调用由编排器内部串行化。
type OrchestrateRequest struct {
	CanvasID         string                `json:"canvas_id"`
	Message          string                `json:"message"`
	OrchestratorID   string                `json:"orchestrator_id"`
	Nodes            []models.Node         `json:"nodes"`
	Edges            []models.Edge         `json:"edges"`
	Overrides        ContentOverrides      `json:"content_overrides,omitempty"`
	ActiveSection    *models.ActiveSection `json:"active_section,omitempty"`
	DocumentOpen     bool                  `json:"document_panel_open"`
	DocumentFormat   string                `json:"document_format,omitempty"`
	UseDeepReasoning bool                  `json:"use_deep_reasoning"`
	OnStream         StreamHandler         `json:"-"`
}

// OrchestrateResult 一次编排调用的完整输出
type OrchestrateResult struct {
	Success            bool                   `json:"success"`
	Intent             models.UserIntent      `json:"intent,omitempty"`
	Confidence         float64                `json:"confidence,omitempty"`
	Reasoning          string                 `json:"reasoning,omitempty"`
	NeedsClarification bool                   `json:"needs_clarification,omitempty"`
	ClarifyingQuestion string                 `json:"clarifying_question,omitempty"`
	UsedDeepPath       bool                   `json:"used_deep_path,omitempty"`
	ModelUsed          string                 `json:"model_used,omitempty"`
	Strategy           models.Strategy        `json:"strategy,omitempty"`
	Actions            []models.Action        `json:"actions"`
	Messages           []models.ChatMessage   `json:"messages"`
	Mutations          []models.GraphMutation `json:"mutations,omitempty"`
	RewriteReport      *models.RewriteReport  `json:"rewrite_report,omitempty"`
	RAGStats           *RAGStats              `json:"rag_stats,omitempty"`
	Error              string                 `json:"error,omitempty"`
}

// OrchestratorService 编排器核心：消息进，意图和动作出
type OrchestratorService struct {
	contextService   *ContextService
	referenceService *ReferenceService
	retrievalService *RetrievalService
	intentService    *IntentService
	plannerService   *PlannerService
	executorService  *ExecutorService
	sessionService   *SessionService
	templateService  *TemplateService
	llmService       *LLMService
	locks            *LockManager
	metrics          *utils.APIMetrics
}

// NewOrchestratorService 创建编排服务
func NewOrchestratorService(
	contextService *ContextService,
	referenceService *ReferenceService,
	retrievalService *RetrievalService,
	intentService *IntentService,
	plannerService *PlannerService,
	executorService *ExecutorService,
	sessionService *SessionService,
	templateService *TemplateService,
	llmService *LLMService,
) *OrchestratorService {
	return &OrchestratorService{
		contextService:   contextService,
		referenceService: referenceService,
		retrievalService: retrievalService,
		intentService:    intentService,
		plannerService:   plannerService,
		executorService:  executorService,
		sessionService:   sessionService,
		templateService:  templateService,
		llmService:       llmService,
		locks:            NewLockManager(),
		metrics:          utils.NewAPIMetrics(),
	}
}

// Orchestrate 处理一条用户消息
//
// 同一画布的调用串行执行，任何内部异常都被捕获并转成错误结果，
// 绝不向调用方抛出。
func (s *OrchestratorService) Orchestrate(ctx context.Context, req *OrchestrateRequest) (result *OrchestrateResult) {
	s.locks.ExecuteWithCanvasLock(req.CanvasID, func() {
		result = s.orchestrate(ctx, req)
	})
	return result
}

func (s *OrchestratorService) orchestrate(ctx context.Context, req *OrchestrateRequest) (result *OrchestrateResult) {
	defer func() {
		if r := recover(); r != nil {
			utils.GetLogger().Errorf("编排调用panic: %v", r)
			s.metrics.RecordError("panic", "orchestrator")
			msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryError,
				fmt.Sprintf("Orchestration failed: %v", r))
			result = &OrchestrateResult{
				Success:  false,
				Error:    fmt.Sprintf("%v", r),
				Messages: []models.ChatMessage{msg},
			}
		}
	}()

	started := time.Now()
	history := s.sessionService.GetMessages(req.CanvasID)

	// 用户消息先入会话日志
	echo := s.sessionService.AddMessage(req.CanvasID, models.RoleUser, models.CategoryUserEcho, req.Message)
	messages := []models.ChatMessage{echo}

	// 等待模板选择时，本条消息优先按选择回复处理
	if pending := s.sessionService.PendingCreation(req.CanvasID); pending != nil {
		return s.handleTemplateReply(ctx, req, pending, messages)
	}

	canvas := s.contextService.BuildCanvasContext(req.OrchestratorID, req.Nodes, req.Edges, req.Overrides)
	reference := s.referenceService.Resolve(req.Message, canvas, history)
	outline := s.resolveOutline(req, canvas, reference)

	cc := &ClassificationContext{
		Message:        req.Message,
		ActiveSection:  req.ActiveSection,
		DocumentOpen:   req.DocumentOpen,
		DocumentFormat: req.DocumentFormat,
		Outline:        outline,
		Canvas:         canvas,
		History:        history,
	}

	deepFirst := req.UseDeepReasoning || NeedsDeepPath(req.Message)
	intent := s.intentService.Analyze(ctx, cc, deepFirst)

	thinking := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryThinking,
		fmt.Sprintf("Intent: %s (%.0f%% confidence)", intent.Intent, intent.Confidence*100))
	messages = append(messages, thinking)

	result = &OrchestrateResult{
		Success:      true,
		Intent:       intent.Intent,
		Confidence:   intent.Confidence,
		Reasoning:    intent.Reasoning,
		UsedDeepPath: intent.UsedDeepPath,
		ModelUsed:    s.llmService.ModelForRole(intent.SuggestedModel),
		Messages:     messages,
	}

	// 需要澄清时不规划任何动作，等下一轮用户输入
	if intent.NeedsClarification || intent.Intent == models.IntentClarify {
		question := intent.ClarifyingQuestion
		if question == "" {
			question = "Could you tell me a bit more about what you'd like to do?"
		}
		msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryDecision, question)
		result.Messages = append(result.Messages, msg)
		result.NeedsClarification = true
		result.ClarifyingQuestion = question
		return result
	}

	// 校验失败：不碰任何状态，带建议返回
	if validation := s.intentService.ValidateIntent(intent, cc); !validation.CanExecute {
		content := validation.ErrorMessage
		if validation.Suggestion != "" {
			content = fmt.Sprintf("%s. %s", validation.ErrorMessage, validation.Suggestion)
		}
		msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryDecision, content)
		result.Messages = append(result.Messages, msg)
		return result
	}

	// create_structure 缺少模板选择：建立待创建槽位并列出选项
	if intent.Intent == models.IntentCreateStructure {
		return s.beginStructureCreation(req, intent, canvas, reference, result)
	}

	env := &ExecutionEnv{
		CanvasID:  req.CanvasID,
		Canvas:    canvas,
		Outline:   outline,
		ModelRole: intent.SuggestedModel,
		OnStream:  req.OnStream,
	}
	if reference != nil && !reference.Plural {
		env.NodeID = reference.NodeID
	}
	if env.NodeID == "" {
		if node := canvas.FirstOfType(models.NodeTypeDocumentStructure); node != nil {
			env.NodeID = node.NodeID
		}
	}

	// 回答类意图先做检索增强，不可用/无结果时降级到原始读取
	if intent.Intent == models.IntentAnswerQuestion || intent.Intent == models.IntentGeneralChat {
		s.enhanceForAnswer(ctx, req.Message, env, canvas, result)
	}

	// 连贯性改写走专用的多步计划
	if intent.Intent == models.IntentRewriteWithCoherence {
		return s.runCoherenceRewrite(ctx, req, intent, env, result)
	}

	planInput := &PlanInput{
		Intent:         intent,
		Message:        req.Message,
		ActiveSection:  req.ActiveSection,
		Outline:        outline,
		Canvas:         canvas,
		Reference:      reference,
		DetectedFormat: s.templateService.DetectFormat(req.Message),
	}
	actions := s.plannerService.PlanActions(planInput)
	result.Actions = actions
	result.Strategy = s.plannerService.SelectStrategy(intent, actions)

	execResult := s.executorService.ExecuteActions(ctx, actions, env)
	result.Messages = append(result.Messages, execResult.Messages...)
	result.Mutations = execResult.Mutations

	utils.GetLogger().Infof("编排完成 intent=%s actions=%d failed=%d 耗时=%s",
		intent.Intent, len(actions), execResult.Failed, time.Since(started))
	s.metrics.RecordOrchestration(string(intent.Intent), intent.UsedDeepPath, time.Since(started))
	return result
}

// AnalyzeIntent 只做意图分类，不规划也不执行任何动作
//
// 供前端的意图预览端点使用，不写会话日志。
func (s *OrchestratorService) AnalyzeIntent(ctx context.Context, req *OrchestrateRequest) *models.IntentResult {
	history := s.sessionService.GetMessages(req.CanvasID)
	canvas := s.contextService.BuildCanvasContext(req.OrchestratorID, req.Nodes, req.Edges, req.Overrides)
	reference := s.referenceService.Resolve(req.Message, canvas, history)

	cc := &ClassificationContext{
		Message:        req.Message,
		ActiveSection:  req.ActiveSection,
		DocumentOpen:   req.DocumentOpen,
		DocumentFormat: req.DocumentFormat,
		Outline:        s.resolveOutline(req, canvas, reference),
		Canvas:         canvas,
		History:        history,
	}

	deepFirst := req.UseDeepReasoning || NeedsDeepPath(req.Message)
	return s.intentService.Analyze(ctx, cc, deepFirst)
}

// handleTemplateReply 处理等待模板选择期间收到的消息
func (s *OrchestratorService) handleTemplateReply(ctx context.Context, req *OrchestrateRequest, pending *models.PendingCreation, messages []models.ChatMessage) *OrchestrateResult {
	result := &OrchestrateResult{
		Success:  true,
		Intent:   models.IntentCreateStructure,
		Messages: messages,
	}

	// 显式取消：清槽位，回到普通会话
	if isCancelReply(req.Message) {
		s.sessionService.ClearPending(req.CanvasID)
		msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryResult,
			"Okay, I've cancelled the structure creation. What would you like to do instead?")
		result.Intent = models.IntentGeneralChat
		result.Messages = append(result.Messages, msg)
		return result
	}

	tpl := s.templateService.MatchTemplate(pending.Format, req.Message)
	if tpl == nil {
		// 无法判定选择：保留槽位，重新列出选项
		var names []string
		for _, t := range s.templateService.TemplatesForFormat(pending.Format) {
			names = append(names, fmt.Sprintf("%q", t.Name))
		}
		msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryDecision,
			fmt.Sprintf("I didn't catch which template you meant. Available %s templates: %s. You can also say \"cancel\".",
				pending.Format, strings.Join(names, ", ")))
		result.NeedsClarification = true
		result.ClarifyingQuestion = msg.Content
		result.Messages = append(result.Messages, msg)
		return result
	}

	// 选定模板：创建结构，清槽位
	s.sessionService.ClearPending(req.CanvasID)

	prompt := pending.UserMessage
	if pending.EnhancedPrompt != "" {
		prompt = pending.EnhancedPrompt
	}
	action := models.Action{
		Type: models.ActionModifyStructure,
		Payload: models.ActionPayload{
			Format:     pending.Format,
			TemplateID: tpl.ID,
			Prompt:     prompt,
			NodeID:     pending.ReferenceNodeID,
		},
		Priority: models.PriorityHigh,
	}

	env := &ExecutionEnv{CanvasID: req.CanvasID, OnStream: req.OnStream}
	execResult := s.executorService.ExecuteActions(ctx, []models.Action{action}, env)

	result.Confidence = 1.0
	result.Strategy = models.StrategySequential
	result.Actions = []models.Action{action}
	result.Messages = append(result.Messages, execResult.Messages...)
	result.Mutations = execResult.Mutations
	return result
}

// beginStructureCreation 建立待创建槽位并向用户展示模板选项
func (s *OrchestratorService) beginStructureCreation(req *OrchestrateRequest, intent *models.IntentResult, canvas *models.CanvasContext, reference *ReferenceResult, result *OrchestrateResult) *OrchestrateResult {
	format := s.templateService.DetectFormat(req.Message)
	if format == "" {
		format = intent.ExtractedEntities["documentFormat"]
	}
	if format == "" {
		format = "novel"
	}

	pending := &models.PendingCreation{
		Format:      format,
		UserMessage: req.Message,
		CreatedAt:   time.Now(),
	}
	if reference != nil && !reference.Plural {
		pending.ReferenceNodeID = reference.NodeID
		// 引用了现有节点时，把它的摘要带进后续生成
		if node := canvas.FindNode(reference.NodeID); node != nil {
			pending.EnhancedPrompt = fmt.Sprintf("%s\n\nBased on: %s", req.Message, node.Summary)
		}
	}

	templates := s.templateService.TemplatesForFormat(format)
	if len(templates) == 0 {
		msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryError,
			fmt.Sprintf("I don't have any %s templates yet.", format))
		result.Messages = append(result.Messages, msg)
		return result
	}

	var options []string
	for _, tpl := range templates {
		options = append(options, fmt.Sprintf("%q (%s)", tpl.Name, tpl.Description))
	}
	msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryDecision,
		fmt.Sprintf("Which %s structure would you like? Options: %s", format, strings.Join(options, ", ")))

	// 槽位在决策消息之后建立，保持"槽位存在 <=> 最近一条编排器
	// 消息在要求选择"的不变式
	s.sessionService.SetPendingCreation(req.CanvasID, pending)

	result.NeedsClarification = true
	result.ClarifyingQuestion = msg.Content
	result.Messages = append(result.Messages, msg)
	result.Strategy = models.StrategySequential
	return result
}

// runCoherenceRewrite 构建并执行连贯性改写计划
func (s *OrchestratorService) runCoherenceRewrite(ctx context.Context, req *OrchestrateRequest, intent *models.IntentResult, env *ExecutionEnv, result *OrchestrateResult) *OrchestrateResult {
	plan, err := s.plannerService.BuildRewritePlan(env.Outline, req.ActiveSection.ID)
	if err != nil {
		msg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryError,
			fmt.Sprintf("Could not plan the rewrite: %v", err))
		result.Messages = append(result.Messages, msg)
		return result
	}

	planMsg := s.sessionService.AddMessage(req.CanvasID, models.RoleOrchestrator, models.CategoryDecision,
		fmt.Sprintf("Planned a coherence rewrite across %d sections, starting from the document root.", len(plan.Steps)))
	result.Messages = append(result.Messages, planMsg)
	result.Strategy = models.StrategySequential

	execResult := &ExecutionResult{}
	report := s.executorService.ExecuteRewritePlan(ctx, plan, env, execResult)

	result.Messages = append(result.Messages, execResult.Messages...)
	result.Mutations = execResult.Mutations
	result.RewriteReport = report
	return result
}

// enhanceForAnswer 为回答类意图做检索增强，必要时降级到原始读取
func (s *OrchestratorService) enhanceForAnswer(ctx context.Context, message string, env *ExecutionEnv, canvas *models.CanvasContext, result *OrchestrateResult) {
	if env.NodeID == "" {
		return
	}

	enhanced := s.retrievalService.Enhance(ctx, message, env.NodeID, canvas)
	if enhanced.HasRAG {
		env.RAGContent = enhanced.RAGContent
		result.RAGStats = enhanced.RAGStats
		return
	}

	// 索引存在但没有相关结果时，回答前必须读原始内容
	if strings.Contains(enhanced.FallbackReason, "no relevant content") {
		env.RAGContent = s.retrievalService.RawContentFallback(env.NodeID, canvas)
	}
}

// resolveOutline 确定本次调用使用的文档大纲
//
// 优先引用解析出的节点，其次第一个文档结构节点。
func (s *OrchestratorService) resolveOutline(req *OrchestrateRequest, canvas *models.CanvasContext, reference *ReferenceResult) *models.Outline {
	var node *models.ConnectedNode
	if reference != nil && !reference.Plural {
		node = canvas.FindNode(reference.NodeID)
	}
	if node == nil || node.DetailedContext == nil {
		node = canvas.FirstOfType(models.NodeTypeDocumentStructure)
	}
	if node == nil || node.DetailedContext == nil {
		return nil
	}
	return models.NewOutline(node.DetailedContext.Outline)
}

// 整词匹配，避免 "nonstop" 这类包含取消词的普通回复误触发
var cancelReplyPattern = regexp.MustCompile(`(?i)\b(cancel|never mind|nevermind|forget it|stop)\b`)

func isCancelReply(message string) bool {
	return cancelReplyPattern.MatchString(message)
}
