// internal/services/preview_service_test.go
package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publo/canvas-orchestrator/internal/models"
)

func TestRenderDocument(t *testing.T) {
	svc := NewPreviewService()
	outline := models.NewOutline([]models.Section{
		{ID: "s1", Level: 1, Name: "Act I", Summary: "The setup", Order: 0},
		{ID: "s2", Level: 2, Name: "Opening", ParentID: "s1", Content: "The dragon wakes at dawn.", Order: 1},
		{ID: "s3", Level: 2, Name: "Ending", ParentID: "s1", Summary: "The dragon sleeps again.", Order: 2},
	})

	out, err := svc.RenderDocument("Dragon Story", outline)
	require.NoError(t, err, "渲染文档不应失败")

	// 标题层级：文档标题 h1，章节按 Level+1 映射
	assert.Contains(t, out, "<h1>Dragon Story</h1>", "文档标题应渲染为 h1")
	assert.Contains(t, out, "<h2>Act I</h2>", "一级章节应渲染为 h2")
	assert.Contains(t, out, "<h3>Opening</h3>", "二级章节应渲染为 h3")

	// 已写章节出正文，未写章节出摘要引用
	assert.Contains(t, out, "The dragon wakes at dawn.", "已写章节应输出正文")
	assert.Contains(t, out, "<blockquote>", "未写章节的摘要应渲染为引用块")
	assert.Contains(t, out, "The dragon sleeps again.", "未写章节应输出摘要")
}

func TestRenderDocumentDeepLevelsCapped(t *testing.T) {
	svc := NewPreviewService()
	outline := models.NewOutline([]models.Section{
		{ID: "s1", Level: 9, Name: "Very Deep", Content: "text", Order: 0},
	})

	out, err := svc.RenderDocument("", outline)
	require.NoError(t, err, "渲染文档不应失败")

	assert.Contains(t, out, "<h6>Very Deep</h6>", "超深层级应封顶到 h6")
	assert.NotContains(t, out, "<h1>", "没有标题时不应出现 h1")
}

func TestRenderMarkdown(t *testing.T) {
	svc := NewPreviewService()

	out, err := svc.RenderMarkdown("**bold** and a [link](https://example.com)\n\n| a | b |\n|---|---|\n| 1 | 2 |")
	require.NoError(t, err, "渲染Markdown不应失败")

	assert.Contains(t, out, "<strong>bold</strong>", "应支持加粗")
	assert.Contains(t, out, `<a href="https://example.com">link</a>`, "应支持链接")
	// GFM 扩展启用了表格
	assert.True(t, strings.Contains(out, "<table>"), "应支持GFM表格")
}
