// internal/services/helpers_test.go
package services

import (
	"context"

	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
)

// fakeProvider 测试用的LLM提供商
//
// completeFn 为 nil 时返回固定文本；streamChunks 按序发出增量后以
// Done 消息收尾。
type fakeProvider struct {
	completeFn   func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
	streamChunks []string
	streamFinal  string
	streamErr    error
	calls        []llm.CompletionRequest
}

func (p *fakeProvider) Initialize(_ map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                      { return "fake" }
func (p *fakeProvider) GetSupportedModels() []string         { return []string{"fake-model"} }

func (p *fakeProvider) CompleteText(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls = append(p.calls, req)
	if p.completeFn != nil {
		return p.completeFn(req)
	}
	return &llm.CompletionResponse{Text: "fake response", TokensUsed: 10}, nil
}

func (p *fakeProvider) StreamCompletion(_ context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	p.calls = append(p.calls, req)
	if p.streamErr != nil {
		return nil, p.streamErr
	}

	ch := make(chan llm.StreamResponse, len(p.streamChunks)+1)
	full := p.streamFinal
	for _, chunk := range p.streamChunks {
		ch <- llm.StreamResponse{Text: chunk}
	}
	// 没有显式的完整文本时由增量拼接
	if full == "" {
		for _, chunk := range p.streamChunks {
			full += chunk
		}
	}
	ch <- llm.StreamResponse{Text: full, Done: true}
	close(ch)
	return ch, nil
}

// newTestLLMService 构造一个就绪的LLM服务，底层走 fakeProvider
func newTestLLMService(provider llm.Provider) *LLMService {
	s := createBaseLLMService()
	s.provider = provider
	s.providerName = "fake"
	s.isReady = true
	s.readyState = "Ready"
	return s
}

// newTestOutline 标准测试章节树，和 planner/executor 测试共用
//
//	root (level 1)
//	├── ch1 (level 2, 已写)
//	├── ch2 (level 2, 未写)
//	│   └── sc1 (level 3, 已写)
//	└── ch3 (level 2, 已写)
func newTestOutline() *models.Outline {
	return models.NewOutline([]models.Section{
		{ID: "root", Level: 1, Name: "Act I", Summary: "The setup", Order: 0},
		{ID: "ch1", Level: 2, ParentID: "root", Name: "Chapter 1", Content: "first chapter text", Order: 1},
		{ID: "ch2", Level: 2, ParentID: "root", Name: "Chapter 2", Summary: "The turn", Order: 2},
		{ID: "sc1", Level: 3, ParentID: "ch2", Name: "Scene 1", Content: "scene text", Order: 3},
		{ID: "ch3", Level: 2, ParentID: "root", Name: "Chapter 3", Content: "third chapter text", Order: 4},
	})
}

// newTestCanvas 带一个文档结构节点和一个角色节点的画布快照
func newTestCanvas() *models.CanvasContext {
	outline := newTestOutline()
	contentMap := map[string]string{}
	for _, sec := range outline.Sections {
		if sec.HasContent() {
			contentMap[sec.ID] = sec.Content
		}
	}
	return &models.CanvasContext{
		TotalNodes: 3,
		ConnectedNodes: []models.ConnectedNode{
			{
				NodeID:   "doc-1",
				Label:    "Dragon Story",
				NodeType: models.NodeTypeDocumentStructure,
				Summary:  `novel "Dragon Story" (document structure, 3/5 sections written)`,
				DetailedContext: &models.DetailedContext{
					Format:     "novel",
					Outline:    outline.Sections,
					ContentMap: contentMap,
				},
			},
			{
				NodeID:   "char-1",
				Label:    "Alice",
				NodeType: models.NodeTypeCharacter,
				Summary:  `"Alice" (character)`,
			},
		},
	}
}
