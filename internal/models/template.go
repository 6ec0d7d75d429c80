// internal/models/template.go
package models

// TemplateSection 表示结构模板中的一个章节定义
type TemplateSection struct {
	Name    string `json:"name" yaml:"name"`
	Level   int    `json:"level" yaml:"level"`
	Summary string `json:"summary" yaml:"summary"`
}

// StructureTemplate 表示某种文档格式下的一个结构模板
//
// create_structure 意图需要用户从当前格式的模板列表中选择一个，
// 选择结果决定初始章节树。
type StructureTemplate struct {
	ID          string            `json:"id" yaml:"id"`
	Format      string            `json:"format" yaml:"format"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Keywords    []string          `json:"keywords,omitempty" yaml:"keywords,omitempty"` // 用于口语化引用匹配
	Sections    []TemplateSection `json:"sections" yaml:"sections"`
}
