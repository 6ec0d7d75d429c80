// internal/services/executor_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
)

func newTestExecutor(provider llm.Provider) (*ExecutorService, *SessionService) {
	session := NewSessionService(nil)
	var llmService *LLMService
	if provider != nil {
		llmService = newTestLLMService(provider)
	} else {
		llmService = NewEmptyLLMService()
	}
	return NewExecutorService(llmService, session, NewTemplateService("")), session
}

func testEnv() *ExecutionEnv {
	return &ExecutionEnv{
		CanvasID: "canvas-1",
		Canvas:   newTestCanvas(),
		Outline:  newTestOutline(),
		NodeID:   "doc-1",
	}
}

func TestExecuteActionsUnknownType(t *testing.T) {
	svc, _ := newTestExecutor(nil)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionType("teleport")},
	}, testEnv())

	if result.Failed != 1 {
		t.Errorf("未知动作类型应计入失败: Failed=%d", result.Failed)
	}
	if len(result.Messages) != 1 || result.Messages[0].Category != models.CategoryError {
		t.Errorf("未知动作应产生错误消息: %+v", result.Messages)
	}
}

func TestExecuteActionsFailureIsolation(t *testing.T) {
	svc, _ := newTestExecutor(nil)

	// 第一个动作失败（LLM未就绪），第二个仍应执行
	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionGenerateContent, Payload: models.ActionPayload{Mode: models.GenerateAnswer, Prompt: "hi"}},
		{Type: models.ActionMessage, Payload: models.ActionPayload{Content: "still here"}},
	}, testEnv())

	if result.Failed != 1 {
		t.Errorf("只有第一个动作应失败: Failed=%d", result.Failed)
	}
	last := result.Messages[len(result.Messages)-1]
	if last.Content != "still here" {
		t.Errorf("失败后续动作仍应执行: %+v", result.Messages)
	}
}

func TestExecuteMessageDefaultCategory(t *testing.T) {
	svc, session := newTestExecutor(nil)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionMessage, Payload: models.ActionPayload{Content: "hello"}},
	}, testEnv())

	if len(result.Messages) != 1 || result.Messages[0].Category != models.CategoryResult {
		t.Errorf("未指定类别的消息应默认为 result: %+v", result.Messages)
	}
	// 消息同时进入会话日志
	if len(session.GetMessages("canvas-1")) != 1 {
		t.Error("执行产生的消息应追加到会话日志")
	}
}

func TestExecuteOpenDocumentSetsNode(t *testing.T) {
	svc, _ := newTestExecutor(nil)
	env := testEnv()
	env.NodeID = ""

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionOpenDocument, Payload: models.ActionPayload{NodeID: "doc-1", NodeName: "Dragon Story"}},
	}, env)

	if env.NodeID != "doc-1" {
		t.Errorf("打开文档应更新环境的节点ID: %q", env.NodeID)
	}
	if len(result.Messages) != 1 || !strings.Contains(result.Messages[0].Content, "Dragon Story") {
		t.Errorf("打开文档应产生任务消息: %+v", result.Messages)
	}
}

func TestExecuteSelectSection(t *testing.T) {
	svc, _ := newTestExecutor(nil)

	// 只有ID时从大纲解析名称
	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionSelectSection, Payload: models.ActionPayload{SectionID: "ch2"}},
	}, testEnv())

	if result.Failed != 0 {
		t.Fatalf("选择章节不应失败: %+v", result.Messages)
	}
	if !strings.Contains(result.Messages[0].Content, `"Chapter 2"`) {
		t.Errorf("跳转消息应包含章节名: %s", result.Messages[0].Content)
	}

	// 定位不到章节时失败
	result = svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionSelectSection, Payload: models.ActionPayload{SectionID: "missing"}},
	}, testEnv())
	if result.Failed != 1 {
		t.Error("无法定位的章节应计入失败")
	}
}

func TestGenerateAnswer(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if !strings.Contains(req.SystemPrompt, "Publo") {
				t.Errorf("回答系统提示词不对: %s", req.SystemPrompt)
			}
			return &llm.CompletionResponse{Text: "Act two ends with the midpoint reversal.", TokensUsed: 20}, nil
		},
	}
	svc, _ := newTestExecutor(provider)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionGenerateContent, Payload: models.ActionPayload{
			Mode:   models.GenerateAnswer,
			Prompt: "how does act two end?",
		}},
	}, testEnv())

	if result.Failed != 0 {
		t.Fatalf("回答生成不应失败: %+v", result.Messages)
	}
	if result.Answer != "Act two ends with the midpoint reversal." {
		t.Errorf("Answer 字段不对: %q", result.Answer)
	}
	if len(result.Mutations) != 0 {
		t.Error("回答模式不应产生图变更")
	}
}

func TestGenerateAnswerUsesRAGContent(t *testing.T) {
	var captured llm.CompletionRequest
	provider := &fakeProvider{
		completeFn: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			captured = req
			return &llm.CompletionResponse{Text: "answer"}, nil
		},
	}
	svc, _ := newTestExecutor(provider)
	env := testEnv()
	env.RAGContent = "the dragon hoards memories, not gold"

	svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionGenerateContent, Payload: models.ActionPayload{Mode: models.GenerateAnswer, Prompt: "q"}},
	}, env)

	if !strings.Contains(captured.SystemPrompt, "hoards memories") {
		t.Errorf("检索增强内容应进入系统提示词: %s", captured.SystemPrompt)
	}
}

func TestGenerateSectionContentStreams(t *testing.T) {
	provider := &fakeProvider{
		streamChunks: []string{"The dragon ", "woke at dawn."},
	}
	svc, _ := newTestExecutor(provider)

	var deltas []string
	env := testEnv()
	env.OnStream = func(sectionID, delta string) {
		if sectionID != "ch2" {
			t.Errorf("增量的章节ID不对: %s", sectionID)
		}
		deltas = append(deltas, delta)
	}

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionGenerateContent, Payload: models.ActionPayload{
			SectionID:   "ch2",
			SectionName: "Chapter 2",
			Prompt:      "write it",
			Mode:        models.GenerateWrite,
		}},
	}, env)

	if result.Failed != 0 {
		t.Fatalf("写入生成不应失败: %+v", result.Messages)
	}
	if len(deltas) != 2 {
		t.Errorf("应转发两个增量: %v", deltas)
	}

	if len(result.Mutations) != 1 {
		t.Fatalf("应产生一个图变更: %+v", result.Mutations)
	}
	m := result.Mutations[0]
	if m.Kind != models.MutationUpdateSectionContent || m.NodeID != "doc-1" || m.SectionID != "ch2" {
		t.Errorf("变更意图不对: %+v", m)
	}
	if m.Content != "The dragon woke at dawn." {
		t.Errorf("变更内容应为完整文本: %q", m.Content)
	}

	// 任务消息 + 完成消息
	last := result.Messages[len(result.Messages)-1]
	if !strings.Contains(last.Content, "Finished writing") {
		t.Errorf("应追加完成消息: %s", last.Content)
	}
}

func TestGenerateSectionContentDoneOverridesDeltas(t *testing.T) {
	// Done 消息携带的完整文本优先于增量拼接
	provider := &fakeProvider{
		streamChunks: []string{"partial "},
		streamFinal:  "the full corrected text",
	}
	svc, _ := newTestExecutor(provider)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionGenerateContent, Payload: models.ActionPayload{
			SectionID: "ch2", SectionName: "Chapter 2", Mode: models.GenerateWrite,
		}},
	}, testEnv())

	if len(result.Mutations) != 1 || result.Mutations[0].Content != "the full corrected text" {
		t.Errorf("Done 的完整文本应作为最终内容: %+v", result.Mutations)
	}
}

func TestModifyStructureWithTemplate(t *testing.T) {
	svc, _ := newTestExecutor(nil)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionModifyStructure, Payload: models.ActionPayload{TemplateID: "interview"}},
	}, testEnv())

	if result.Failed != 0 {
		t.Fatalf("模板展开不应失败: %+v", result.Messages)
	}
	if len(result.Mutations) != 1 {
		t.Fatalf("应产生一个建节点变更: %+v", result.Mutations)
	}
	m := result.Mutations[0]
	if m.Kind != models.MutationCreateNode || m.Node == nil {
		t.Fatalf("变更类型不对: %+v", m)
	}
	if m.Node.Type != models.NodeTypeDocumentStructure || m.Node.Structure == nil {
		t.Errorf("新节点应为文档结构: %+v", m.Node)
	}
	if len(m.Node.Structure.Sections) != 6 {
		t.Errorf("interview 模板应展开 6 个章节: got %d", len(m.Node.Structure.Sections))
	}
}

func TestModifyStructureWithFormatListsOptions(t *testing.T) {
	svc, _ := newTestExecutor(nil)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionModifyStructure, Payload: models.ActionPayload{Format: "podcast"}},
	}, testEnv())

	if result.Failed != 0 || len(result.Mutations) != 0 {
		t.Fatalf("只有格式时应列出选项而不是建节点: %+v", result)
	}
	msg := result.Messages[0]
	if msg.Category != models.CategoryDecision {
		t.Errorf("选项消息类别应为 decision: %s", msg.Category)
	}
	if !strings.Contains(msg.Content, "Interview Episode") || !strings.Contains(msg.Content, "Narrative Episode") {
		t.Errorf("选项消息应列出全部 podcast 模板: %s", msg.Content)
	}
}

func TestModifyStructureMissingFormatFails(t *testing.T) {
	svc, _ := newTestExecutor(nil)

	result := svc.ExecuteActions(context.Background(), []models.Action{
		{Type: models.ActionModifyStructure},
	}, testEnv())

	if result.Failed != 1 {
		t.Error("缺少格式和模板的结构动作应失败")
	}
}

func TestExecuteRewritePlanReport(t *testing.T) {
	// review 返回 CONSISTENT 哨兵，重写步骤正常产出
	provider := &fakeProvider{
		completeFn: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.Contains(req.Prompt, "reply CONSISTENT") {
				return &llm.CompletionResponse{Text: "CONSISTENT"}, nil
			}
			return &llm.CompletionResponse{Text: "updated summary"}, nil
		},
		streamChunks: []string{"rewritten body"},
	}
	svc, _ := newTestExecutor(provider)
	env := testEnv()

	plan, err := NewPlannerService().BuildRewritePlan(env.Outline, "ch2")
	if err != nil {
		t.Fatalf("构建计划失败: %v", err)
	}

	result := &ExecutionResult{}
	report := svc.ExecuteRewritePlan(context.Background(), plan, env, result)

	if report.Failed != 0 || report.Succeeded != len(plan.Steps) {
		t.Errorf("全部步骤应成功: %+v", report)
	}
	if len(report.Results) != len(plan.Steps) {
		t.Errorf("报告应逐步枚举: got %d, want %d", len(report.Results), len(plan.Steps))
	}

	// 变更：root 摘要 + ch2 正文 + sc1 正文；CONSISTENT 的同级不产生变更
	kinds := map[models.MutationKind]int{}
	for _, m := range result.Mutations {
		kinds[m.Kind]++
	}
	if kinds[models.MutationModifyStructure] != 1 {
		t.Errorf("应有一个摘要更新变更: %+v", kinds)
	}
	if kinds[models.MutationUpdateSectionContent] != 2 {
		t.Errorf("应有两个正文重写变更: %+v", kinds)
	}

	last := result.Messages[len(result.Messages)-1]
	if !strings.Contains(last.Content, "Coherence rewrite finished") {
		t.Errorf("应追加汇总消息: %s", last.Content)
	}
}

func TestExecuteRewritePlanStepFailureContinues(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, errors.New("model overloaded")
		},
		streamErr: errors.New("model overloaded"),
	}
	svc, _ := newTestExecutor(provider)
	env := testEnv()

	plan, err := NewPlannerService().BuildRewritePlan(env.Outline, "ch2")
	if err != nil {
		t.Fatalf("构建计划失败: %v", err)
	}

	result := &ExecutionResult{}
	report := svc.ExecuteRewritePlan(context.Background(), plan, env, result)

	if report.Failed != len(plan.Steps) {
		t.Errorf("全部步骤应失败但都被执行: Failed=%d, want %d", report.Failed, len(plan.Steps))
	}
	for _, r := range report.Results {
		if r.Success || r.Error == "" {
			t.Errorf("失败步骤应带错误说明: %+v", r)
		}
	}
}

func TestExecuteRewriteStepConsistencyMutates(t *testing.T) {
	// 审校发现不一致时产生重写变更
	provider := &fakeProvider{
		completeFn: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Text: "a fixed version of the chapter"}, nil
		},
	}
	svc, _ := newTestExecutor(provider)
	env := testEnv()

	result := &ExecutionResult{}
	step := models.RewriteStep{SectionID: "ch1", SectionName: "Chapter 1", Action: models.RewriteReviewConsistency, Reason: "check"}
	if err := svc.executeRewriteStep(context.Background(), step, env, result); err != nil {
		t.Fatalf("审校步骤失败: %v", err)
	}

	if len(result.Mutations) != 1 || result.Mutations[0].Content != "a fixed version of the chapter" {
		t.Errorf("不一致的审校应产生重写变更: %+v", result.Mutations)
	}
}

func TestExecuteRewriteStepMissingSection(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestExecutor(provider)
	env := testEnv()

	step := models.RewriteStep{SectionID: "missing", Action: models.RewriteRewriteContent}
	if err := svc.executeRewriteStep(context.Background(), step, env, &ExecutionResult{}); err == nil {
		t.Error("不存在的章节应返回错误")
	}
}
