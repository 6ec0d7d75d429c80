// internal/services/executor_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/publo/canvas-orchestrator/internal/errors"
	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

// StreamHandler 接收内容生成过程中的增量文本
//
// 用于把生成进度转发到WebSocket等实时通道，可以为 nil。
type StreamHandler func(sectionID, delta string)

// ExecutionEnv 动作执行所需的环境快照
type ExecutionEnv struct {
	CanvasID   string
	Canvas     *models.CanvasContext
	Outline    *models.Outline
	NodeID     string // 当前打开的文档节点
	ModelRole  models.SuggestedModel
	RAGContent string // 检索增强的上下文，可为空
	OnStream   StreamHandler
}

// ExecutionResult 一次动作序列执行的产出
//
// Messages 已经追加到会话日志；Mutations 留给外部图服务应用。
type ExecutionResult struct {
	Messages  []models.ChatMessage   `json:"messages"`
	Mutations []models.GraphMutation `json:"mutations"`
	Answer    string                 `json:"answer,omitempty"`
	Failed    int                    `json:"failed"`
}

// ExecutorService 执行规划出的动作序列
//
// 动作按声明顺序执行；单个动作失败记入错误消息后继续执行后续
// 动作，绝不让一步失败拖垮整个序列。
type ExecutorService struct {
	llmService      *LLMService
	sessionService  *SessionService
	templateService *TemplateService
	handlers        map[models.ActionType]actionHandler
}

type actionHandler func(ctx context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error

// NewExecutorService 创建动作执行服务
func NewExecutorService(llmService *LLMService, sessionService *SessionService, templateService *TemplateService) *ExecutorService {
	s := &ExecutorService{
		llmService:      llmService,
		sessionService:  sessionService,
		templateService: templateService,
	}
	s.handlers = map[models.ActionType]actionHandler{
		models.ActionMessage:         s.executeMessage,
		models.ActionOpenDocument:    s.executeOpenDocument,
		models.ActionSelectSection:   s.executeSelectSection,
		models.ActionGenerateContent: s.executeGenerateContent,
		models.ActionModifyStructure: s.executeModifyStructure,
	}
	return s
}

// ExecuteActions 依次执行动作序列
func (s *ExecutorService) ExecuteActions(ctx context.Context, actions []models.Action, env *ExecutionEnv) *ExecutionResult {
	result := &ExecutionResult{}

	for _, action := range actions {
		handler, exists := s.handlers[action.Type]
		if !exists {
			s.recordError(env, result, fmt.Sprintf("Unknown action type: %s", action.Type))
			continue
		}

		if err := handler(ctx, action, env, result); err != nil {
			utils.GetLogger().Warnf("动作执行失败 %s: %v", action.Type, err)
			s.recordError(env, result, fmt.Sprintf("Action %s failed: %v", action.Type, err))
		}
	}

	return result
}

// recordError 把错误记入聊天日志并计数，不中断序列
func (s *ExecutorService) recordError(env *ExecutionEnv, result *ExecutionResult, content string) {
	msg := s.sessionService.AddMessage(env.CanvasID, models.RoleOrchestrator, models.CategoryError, content)
	result.Messages = append(result.Messages, msg)
	result.Failed++
}

// appendMessage 追加一条编排器消息
func (s *ExecutorService) appendMessage(env *ExecutionEnv, result *ExecutionResult, category models.MessageCategory, content string) {
	msg := s.sessionService.AddMessage(env.CanvasID, models.RoleOrchestrator, category, content)
	result.Messages = append(result.Messages, msg)
}

func (s *ExecutorService) executeMessage(_ context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	category := action.Payload.Category
	if category == "" {
		category = models.CategoryResult
	}
	s.appendMessage(env, result, category, action.Payload.Content)
	return nil
}

func (s *ExecutorService) executeOpenDocument(_ context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	name := action.Payload.NodeName
	if name == "" {
		name = "the document"
	}
	s.appendMessage(env, result, models.CategoryTask, fmt.Sprintf("Opening %q...", name))
	env.NodeID = action.Payload.NodeID
	return nil
}

func (s *ExecutorService) executeSelectSection(_ context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	name := action.Payload.SectionName
	if name == "" && action.Payload.SectionID != "" && env.Outline != nil {
		if sec := env.Outline.Find(action.Payload.SectionID); sec != nil {
			name = sec.Name
		}
	}
	if name == "" {
		return apperrors.NewNotFoundError("无法定位要跳转的章节", nil)
	}
	s.appendMessage(env, result, models.CategoryResult, fmt.Sprintf("Jumped to %q", name))
	return nil
}

// executeGenerateContent 内容生成：answer 模式回到聊天，write 模式
// 流式生成后作为图变更提交
func (s *ExecutorService) executeGenerateContent(ctx context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	if !s.llmService.IsReady() {
		return ErrLLMNotReady
	}

	if action.Payload.Mode == models.GenerateAnswer {
		return s.generateAnswer(ctx, action, env, result)
	}
	return s.generateSectionContent(ctx, action, env, result)
}

// generateAnswer 非流式生成回答，结果进入聊天日志
func (s *ExecutorService) generateAnswer(ctx context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	req := llm.CompletionRequest{
		SystemPrompt: s.answerSystemPrompt(env),
		Prompt:       action.Payload.Prompt,
		Model:        s.llmService.ModelForRole(models.ModelOrchestrator),
		MaxTokens:    1500,
	}

	resp, err := s.llmService.CompleteText(ctx, req)
	if err != nil {
		return apperrors.NewGenerationError("回答生成失败", err)
	}

	result.Answer = resp.Text
	s.appendMessage(env, result, models.CategoryResult, resp.Text)
	return nil
}

// generateSectionContent 流式生成章节正文，完成后整体提交
func (s *ExecutorService) generateSectionContent(ctx context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	sectionName := action.Payload.SectionName
	if sectionName == "" {
		sectionName = "the selected section"
	}
	s.appendMessage(env, result, models.CategoryTask, fmt.Sprintf("Writing %q...", sectionName))

	role := env.ModelRole
	if role == "" {
		role = models.ModelWriter
	}

	req := llm.CompletionRequest{
		SystemPrompt: s.writerSystemPrompt(env, action.Payload),
		Prompt:       action.Payload.Prompt,
		Model:        s.llmService.ModelForRole(role),
		MaxTokens:    4000,
		Stream:       true,
	}

	content, err := s.streamToCompletion(ctx, req, action.Payload.SectionID, env.OnStream)
	if err != nil {
		return apperrors.NewGenerationError(fmt.Sprintf("章节 %q 内容生成失败", sectionName), err)
	}

	nodeID := action.Payload.NodeID
	if nodeID == "" {
		nodeID = env.NodeID
	}

	// 内容不直接写图：作为变更意图交给外部图服务
	result.Mutations = append(result.Mutations, models.GraphMutation{
		Kind:      models.MutationUpdateSectionContent,
		NodeID:    nodeID,
		SectionID: action.Payload.SectionID,
		Content:   content,
	})

	s.appendMessage(env, result, models.CategoryResult, fmt.Sprintf("Finished writing %q (%d characters)", sectionName, len(content)))
	return nil
}

// executeModifyStructure 创建或修改章节树
func (s *ExecutorService) executeModifyStructure(_ context.Context, action models.Action, env *ExecutionEnv, result *ExecutionResult) error {
	// 带模板ID时直接展开模板
	if action.Payload.TemplateID != "" {
		tpl, err := s.templateService.Get(action.Payload.TemplateID)
		if err != nil {
			return err
		}
		sections := s.templateService.InstantiateSections(tpl)

		node := &models.Node{
			Label: tpl.Name,
			Type:  models.NodeTypeDocumentStructure,
			Structure: &models.StructurePayload{
				Format:   tpl.Format,
				Sections: sections,
			},
		}
		result.Mutations = append(result.Mutations, models.GraphMutation{
			Kind: models.MutationCreateNode,
			Node: node,
		})

		s.appendMessage(env, result, models.CategoryResult,
			fmt.Sprintf("Created a %s structure with %d sections from the %q template", tpl.Format, len(sections), tpl.Name))
		return nil
	}

	// 没有模板：提示用户选择（由编排器在上游处理待创建槽位）
	format := action.Payload.Format
	if format == "" {
		return apperrors.NewValidationError("结构修改动作缺少格式和模板", nil)
	}

	templates := s.templateService.TemplatesForFormat(format)
	if len(templates) == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("没有 %s 格式的模板", format), nil)
	}

	var names []string
	for _, tpl := range templates {
		names = append(names, fmt.Sprintf("%q (%s)", tpl.Name, tpl.Description))
	}
	s.appendMessage(env, result, models.CategoryDecision,
		fmt.Sprintf("Which %s structure would you like? Options: %s", format, strings.Join(names, ", ")))
	return nil
}

// ExecuteRewritePlan 顺序执行连贯性改写计划
//
// 每步结果独立提交；某步失败时已完成的写入保持提交状态，报告
// 逐步枚举成败而不是全有或全无。
func (s *ExecutorService) ExecuteRewritePlan(ctx context.Context, plan *models.RewritePlan, env *ExecutionEnv, result *ExecutionResult) *models.RewriteReport {
	report := &models.RewriteReport{PlanID: plan.ID}

	for _, step := range plan.Steps {
		s.appendMessage(env, result, models.CategoryTask, step.Reason)

		err := s.executeRewriteStep(ctx, step, env, result)
		stepResult := models.RewriteStepResult{Step: step, Success: err == nil}
		if err != nil {
			stepResult.Error = err.Error()
			report.Failed++
			utils.GetLogger().Warnf("改写步骤失败 %s(%s): %v", step.Action, step.SectionID, err)
			s.appendMessage(env, result, models.CategoryError,
				fmt.Sprintf("Step failed for %q: %v. Continuing with the remaining sections.", step.SectionName, err))
		} else {
			report.Succeeded++
		}
		report.Results = append(report.Results, stepResult)
	}

	summary := fmt.Sprintf("Coherence rewrite finished: %d succeeded, %d failed", report.Succeeded, report.Failed)
	s.appendMessage(env, result, models.CategoryResult, summary)
	return report
}

// executeRewriteStep 执行改写计划中的一步
func (s *ExecutorService) executeRewriteStep(ctx context.Context, step models.RewriteStep, env *ExecutionEnv, result *ExecutionResult) error {
	if !s.llmService.IsReady() {
		return ErrLLMNotReady
	}

	sec := env.Outline.Find(step.SectionID)
	if sec == nil {
		return apperrors.NewRewriteStepError(step.SectionID, fmt.Errorf("章节不存在"))
	}

	switch step.Action {
	case models.RewriteUpdateSummary:
		prompt := fmt.Sprintf("Current summary of %q:\n%s\n\n%s\n\nWrite an updated one-paragraph summary.", sec.Name, sec.Summary, step.Reason)
		resp, err := s.llmService.CompleteText(ctx, llm.CompletionRequest{
			SystemPrompt: s.writerSystemPrompt(env, models.ActionPayload{SectionID: sec.ID, SectionName: sec.Name}),
			Prompt:       prompt,
			Model:        s.llmService.ModelForRole(models.ModelEditor),
			MaxTokens:    500,
		})
		if err != nil {
			return apperrors.NewRewriteStepError(step.SectionID, err)
		}
		result.Mutations = append(result.Mutations, models.GraphMutation{
			Kind:      models.MutationModifyStructure,
			NodeID:    env.NodeID,
			SectionID: sec.ID,
			Sections: []models.Section{{
				ID:       sec.ID,
				Level:    sec.Level,
				ParentID: sec.ParentID,
				Name:     sec.Name,
				Summary:  strings.TrimSpace(resp.Text),
				Content:  sec.Content,
				Order:    sec.Order,
			}},
		})
		return nil

	case models.RewriteRewriteContent:
		prompt := fmt.Sprintf("Current content of %q:\n%s\n\n%s", sec.Name, sec.Content, step.Reason)
		content, err := s.streamToCompletion(ctx, llm.CompletionRequest{
			SystemPrompt: s.writerSystemPrompt(env, models.ActionPayload{SectionID: sec.ID, SectionName: sec.Name}),
			Prompt:       prompt,
			Model:        s.llmService.ModelForRole(models.ModelWriter),
			MaxTokens:    4000,
			Stream:       true,
		}, sec.ID, env.OnStream)
		if err != nil {
			return apperrors.NewRewriteStepError(step.SectionID, err)
		}
		result.Mutations = append(result.Mutations, models.GraphMutation{
			Kind:      models.MutationUpdateSectionContent,
			NodeID:    env.NodeID,
			SectionID: sec.ID,
			Content:   content,
		})
		return nil

	case models.RewriteReviewConsistency:
		prompt := fmt.Sprintf("Content of %q:\n%s\n\n%s\n\nIf the content is already consistent, reply CONSISTENT. Otherwise rewrite it.", sec.Name, sec.Content, step.Reason)
		resp, err := s.llmService.CompleteText(ctx, llm.CompletionRequest{
			SystemPrompt: s.writerSystemPrompt(env, models.ActionPayload{SectionID: sec.ID, SectionName: sec.Name}),
			Prompt:       prompt,
			Model:        s.llmService.ModelForRole(models.ModelEditor),
			MaxTokens:    4000,
		})
		if err != nil {
			return apperrors.NewRewriteStepError(step.SectionID, err)
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" || strings.HasPrefix(strings.ToUpper(text), "CONSISTENT") {
			return nil
		}
		result.Mutations = append(result.Mutations, models.GraphMutation{
			Kind:      models.MutationUpdateSectionContent,
			NodeID:    env.NodeID,
			SectionID: sec.ID,
			Content:   text,
		})
		return nil

	default:
		return apperrors.NewRewriteStepError(step.SectionID, fmt.Errorf("未知的改写操作: %s", step.Action))
	}
}

// streamToCompletion 消费流式通道，转发增量并返回完整文本
func (s *ExecutorService) streamToCompletion(ctx context.Context, req llm.CompletionRequest, sectionID string, onStream StreamHandler) (string, error) {
	stream, err := s.llmService.StreamCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	var full string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case resp, ok := <-stream:
			if !ok {
				return full, nil
			}
			if resp.Err != nil {
				return "", resp.Err
			}
			if resp.Done {
				if resp.Text != "" {
					full = resp.Text
				}
				continue
			}
			full += resp.Text
			if onStream != nil {
				onStream(sectionID, resp.Text)
			}
		}
	}
}

// answerSystemPrompt 回答模式的系统提示词
func (s *ExecutorService) answerSystemPrompt(env *ExecutionEnv) string {
	var sb strings.Builder
	sb.WriteString("You are the orchestrator assistant of Publo, a creative writing platform. Answer the user's question helpfully and concisely.")

	if env.RAGContent != "" {
		sb.WriteString("\n\nRelevant content from the user's documents:\n")
		sb.WriteString(env.RAGContent)
	} else if env.Canvas != nil && !env.Canvas.IsEmpty() {
		sb.WriteString("\n\nCanvas state:\n")
		sb.WriteString(env.Canvas.RenderText())
	}
	return sb.String()
}

// writerSystemPrompt 写作模式的系统提示词
func (s *ExecutorService) writerSystemPrompt(env *ExecutionEnv, payload models.ActionPayload) string {
	var sb strings.Builder
	sb.WriteString("You are a professional writer working inside Publo. Write polished prose for the requested section. Output only the section content, no headings or commentary.")

	if payload.SectionName != "" {
		fmt.Fprintf(&sb, "\n\nTarget section: %q", payload.SectionName)
	}
	if env.Outline != nil && payload.SectionID != "" {
		if ancestors := env.Outline.Ancestors(payload.SectionID); len(ancestors) > 0 {
			sb.WriteString("\nDocument path: ")
			// Ancestors 返回父到根，路径展示为根到父
			names := make([]string, 0, len(ancestors))
			for i := len(ancestors) - 1; i >= 0; i-- {
				names = append(names, ancestors[i].Name)
			}
			sb.WriteString(strings.Join(names, " > "))
		}
	}
	if env.RAGContent != "" {
		sb.WriteString("\n\nRelevant context from connected documents:\n")
		sb.WriteString(env.RAGContent)
	} else if env.Canvas != nil && !env.Canvas.IsEmpty() {
		sb.WriteString("\n\nCanvas state:\n")
		sb.WriteString(env.Canvas.RenderText())
	}
	return sb.String()
}
