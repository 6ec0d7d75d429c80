// internal/services/deep_classifier_test.go
package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/publo/canvas-orchestrator/internal/errors"
	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
)

const validIntentJSON = `{
	"intent": "write_content",
	"confidence": 0.85,
	"reasoning": "User asks for new prose",
	"suggestedAction": "Generate content",
	"requiresContext": true,
	"suggestedModel": "writer",
	"needsClarification": false,
	"clarifyingQuestion": null,
	"extractedEntities": {"targetSectionName": "Chapter 2"}
}`

func TestParseDeepResponseBareJSON(t *testing.T) {
	result, err := parseDeepResponse(validIntentJSON)
	if err != nil {
		t.Fatalf("裸JSON解析失败: %v", err)
	}
	if result.Intent != models.IntentWriteContent || result.Confidence != 0.85 {
		t.Errorf("解析结果不对: %+v", result)
	}
	if result.SuggestedModel != models.ModelWriter || !result.RequiresContext {
		t.Errorf("模型/上下文标记不对: %+v", result)
	}
	if result.ExtractedEntities["targetSectionName"] != "Chapter 2" {
		t.Errorf("提取实体丢失: %+v", result.ExtractedEntities)
	}
	if !result.UsedDeepPath {
		t.Error("深度路径结果必须带 UsedDeepPath 标记")
	}
}

func TestParseDeepResponseFencedJSON(t *testing.T) {
	fenced := "```json\n" + validIntentJSON + "\n```"
	result, err := parseDeepResponse(fenced)
	if err != nil {
		t.Fatalf("代码块包裹的JSON解析失败: %v", err)
	}
	if result.Intent != models.IntentWriteContent {
		t.Errorf("解析结果不对: %+v", result)
	}
}

func TestParseDeepResponseWrappedInProse(t *testing.T) {
	wrapped := "Here is my analysis:\n" + validIntentJSON + "\nLet me know if you need more."
	result, err := parseDeepResponse(wrapped)
	if err != nil {
		t.Fatalf("带说明文字的JSON解析失败: %v", err)
	}
	if result.Intent != models.IntentWriteContent {
		t.Errorf("解析结果不对: %+v", result)
	}
}

func TestParseDeepResponseInvalid(t *testing.T) {
	if _, err := parseDeepResponse("I am not JSON at all"); err == nil {
		t.Error("非JSON响应应返回错误")
	}
}

func TestParseDeepResponseUnknownIntentNormalized(t *testing.T) {
	result, err := parseDeepResponse(`{"intent": "launch_rocket", "confidence": 0.9}`)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if result.Intent != models.IntentGeneralChat {
		t.Errorf("未知意图应归一化为 general_chat: %s", result.Intent)
	}
	if result.SuggestedModel != models.ModelOrchestrator {
		t.Errorf("缺失模型应归一化为 orchestrator: %s", result.SuggestedModel)
	}
}

func TestParseDeepResponseConfidenceClamped(t *testing.T) {
	result, err := parseDeepResponse(`{"intent": "general_chat", "confidence": 1.7}`)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if result.Confidence != 1 {
		t.Errorf("置信度应钳制到 [0,1]: %.2f", result.Confidence)
	}

	result, err = parseDeepResponse(`{"intent": "general_chat", "confidence": -0.4}`)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if result.Confidence != 0 {
		t.Errorf("负置信度应钳制到 0: %.2f", result.Confidence)
	}
}

func TestDeepClassifierNotReady(t *testing.T) {
	classifier := NewDeepClassifier(NewEmptyLLMService(), "")

	_, err := classifier.Classify(context.Background(), &ClassificationContext{Message: "hello"})
	if err == nil || !apperrors.IsClassificationError(err) {
		t.Errorf("LLM未就绪应返回分类错误: %v", err)
	}
}

func TestDeepClassifierParseFailureFallsBack(t *testing.T) {
	provider := &fakeProvider{
		completeFn: func(_ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Text: "sorry, I cannot help with that"}, nil
		},
	}
	classifier := NewDeepClassifier(newTestLLMService(provider), "test-model")

	result, err := classifier.Classify(context.Background(), &ClassificationContext{Message: "do the thing"})
	if err != nil {
		t.Fatalf("解析失败应降级而不是报错: %v", err)
	}
	if result.Intent != models.IntentGeneralChat || !result.NeedsClarification {
		t.Errorf("降级结果应为待澄清的 general_chat: %+v", result)
	}
	if result.Confidence != 0.3 || !result.UsedDeepPath {
		t.Errorf("降级结果的置信度/路径标记不对: %+v", result)
	}
}

func TestDeepClassifierBuildsContextSection(t *testing.T) {
	var captured llm.CompletionRequest
	provider := &fakeProvider{
		completeFn: func(req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			captured = req
			return &llm.CompletionResponse{Text: validIntentJSON}, nil
		},
	}
	classifier := NewDeepClassifier(newTestLLMService(provider), "test-model")

	history := make([]models.ChatMessage, 0, 5)
	for i := 0; i < 5; i++ {
		history = append(history, models.ChatMessage{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
	}

	cc := &ClassificationContext{
		Message:        "expand chapter 2",
		DocumentOpen:   true,
		DocumentFormat: "novel",
		ActiveSection:  &models.ActiveSection{Name: "Chapter 2", Level: 2},
		Canvas:         newTestCanvas(),
		History:        history,
	}

	result, err := classifier.Classify(context.Background(), cc)
	if err != nil {
		t.Fatalf("分类失败: %v", err)
	}
	if result.Intent != models.IntentWriteContent {
		t.Errorf("解析结果不对: %+v", result)
	}

	sys := captured.SystemPrompt
	if !strings.Contains(sys, "Document panel is OPEN (format: novel)") {
		t.Errorf("系统提示词缺少面板状态: %s", sys)
	}
	if !strings.Contains(sys, `Active section: "Chapter 2"`) {
		t.Errorf("系统提示词缺少选中章节: %s", sys)
	}
	if !strings.Contains(sys, "Canvas has 3 nodes") {
		t.Errorf("系统提示词缺少画布统计: %s", sys)
	}
	// 会话窗口只取最近3条
	if strings.Contains(sys, "message 0") || !strings.Contains(sys, "message 4") {
		t.Errorf("会话窗口不对: %s", sys)
	}
	if captured.Model != "test-model" {
		t.Errorf("应使用指定的推理模型: %s", captured.Model)
	}
}
