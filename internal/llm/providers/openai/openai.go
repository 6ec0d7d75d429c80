// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/publo/canvas-orchestrator/internal/llm"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gpt-4.1",
				"gpt-4.1-mini",
				"gpt-4o",
			},
		}
	})
}

// Provider 基于官方 openai-go SDK 的提供者实现
type Provider struct {
	opts              []option.RequestOption
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("openai api密钥未提供")
	}

	p.opts = []option.RequestOption{option.WithAPIKey(apiKey)}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.opts = append(p.opts, option.WithBaseURL(baseURL))
	}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gpt-4.1"
	}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) buildParams(req llm.CompletionRequest, model string) openai.ChatCompletionNewParams {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	return params
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	client := openai.NewClient(p.opts...)

	resp, err := client.Chat.Completions.New(ctx, p.buildParams(req, model))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai未返回任何结果")
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		TokensUsed:   int(resp.Usage.TotalTokens),
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	client := openai.NewClient(p.opts...)
	stream := client.Chat.Completions.NewStreaming(ctx, p.buildParams(req, model))

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer stream.Close()
		defer close(respChan)

		var contentBuffer strings.Builder

		for stream.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				contentBuffer.WriteString(delta)
				if !llm.Emit(ctx, respChan, llm.StreamResponse{
					Text:      delta,
					ModelName: model,
					Done:      false,
				}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			llm.Emit(ctx, respChan, llm.StreamResponse{
				Text:      contentBuffer.String(),
				ModelName: model,
				Done:      true,
				Err:       err,
			})
			return
		}

		llm.Emit(ctx, respChan, llm.StreamResponse{
			Text:         contentBuffer.String(),
			FinishReason: "stop",
			ModelName:    model,
			Done:         true,
		})
	}()

	return respChan, nil
}
