// internal/models/section.go
package models

import (
	"sort"
	"strings"
)

// Section 表示文档结构中的一个章节
//
// 章节按 ParentID 构成一棵树：ParentID 指向层级严格更低的章节，
// 根章节的 ParentID 为空字符串。Content 为空表示尚未写作。
type Section struct {
	ID       string `json:"id"`
	Level    int    `json:"level"`     // 大纲深度，1 为顶层
	ParentID string `json:"parent_id"` // 弱引用，可为空
	Name     string `json:"name"`
	Summary  string `json:"summary"`
	Content  string `json:"content"` // 空字符串表示未写作
	Order    int    `json:"order"`
}

// HasContent 检查章节是否已有内容
func (s *Section) HasContent() bool {
	return s.Content != ""
}

// Outline 表示一个文档结构节点的完整章节树（扁平存储）
type Outline struct {
	Sections []Section `json:"sections"`
}

// NewOutline 创建章节大纲，按 Order 排序
func NewOutline(sections []Section) *Outline {
	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return &Outline{Sections: sorted}
}

// Find 按ID查找章节
func (o *Outline) Find(id string) *Section {
	for i := range o.Sections {
		if o.Sections[i].ID == id {
			return &o.Sections[i]
		}
	}
	return nil
}

// FindByName 按名称查找章节（不区分大小写的精确匹配优先，其次包含匹配）
func (o *Outline) FindByName(name string) *Section {
	if name == "" {
		return nil
	}
	for i := range o.Sections {
		if equalFold(o.Sections[i].Name, name) {
			return &o.Sections[i]
		}
	}
	for i := range o.Sections {
		if containsFold(o.Sections[i].Name, name) {
			return &o.Sections[i]
		}
	}
	return nil
}

// Ancestors 返回章节的祖先链，从直接父级到根
func (o *Outline) Ancestors(id string) []Section {
	var result []Section
	current := o.Find(id)
	seen := map[string]bool{}
	for current != nil && current.ParentID != "" {
		if seen[current.ParentID] {
			break // 防御循环引用
		}
		seen[current.ParentID] = true
		parent := o.Find(current.ParentID)
		if parent == nil || parent.Level >= current.Level {
			break
		}
		result = append(result, *parent)
		current = parent
	}
	return result
}

// Siblings 返回与章节同父的其他章节，按 Order 排序
func (o *Outline) Siblings(id string) []Section {
	target := o.Find(id)
	if target == nil {
		return nil
	}
	var result []Section
	for _, s := range o.Sections {
		if s.ID != id && s.ParentID == target.ParentID && s.Level == target.Level {
			result = append(result, s)
		}
	}
	return result
}

// Descendants 返回章节的全部后代，按 Order 排序
func (o *Outline) Descendants(id string) []Section {
	var result []Section
	frontier := []string{id}
	seen := map[string]bool{id: true}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, s := range o.Sections {
			for _, parent := range frontier {
				if s.ParentID == parent && !seen[s.ID] {
					seen[s.ID] = true
					result = append(result, s)
					next = append(next, s.ID)
				}
			}
		}
		frontier = next
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Order < result[j].Order
	})
	return result
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
}

// WrittenSections 返回已有内容的章节，按 Order 排序
func (o *Outline) WrittenSections() []Section {
	var result []Section
	for _, s := range o.Sections {
		if s.HasContent() {
			result = append(result, s)
		}
	}
	return result
}
