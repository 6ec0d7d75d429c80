// internal/services/preview_service.go
package services

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/publo/canvas-orchestrator/internal/models"
)

// PreviewService 把文档结构渲染成HTML预览
type PreviewService struct {
	md goldmark.Markdown
}

// NewPreviewService 创建预览服务
func NewPreviewService() *PreviewService {
	return &PreviewService{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// RenderDocument 把大纲和内容拼成Markdown后渲染为HTML
//
// 章节标题按层级映射到 #/##/###；未写章节只输出标题和摘要引用。
func (s *PreviewService) RenderDocument(title string, outline *models.Outline) (string, error) {
	var sb strings.Builder

	if title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", title)
	}

	for _, sec := range outline.Sections {
		level := sec.Level + 1
		if level > 6 {
			level = 6
		}
		fmt.Fprintf(&sb, "%s %s\n\n", strings.Repeat("#", level), sec.Name)

		if sec.HasContent() {
			sb.WriteString(sec.Content)
			sb.WriteString("\n\n")
		} else if sec.Summary != "" {
			fmt.Fprintf(&sb, "> %s\n\n", sec.Summary)
		}
	}

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(sb.String()), &buf); err != nil {
		return "", fmt.Errorf("预览渲染失败: %w", err)
	}
	return buf.String(), nil
}

// RenderMarkdown 渲染一段Markdown文本
func (s *PreviewService) RenderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("预览渲染失败: %w", err)
	}
	return buf.String(), nil
}
