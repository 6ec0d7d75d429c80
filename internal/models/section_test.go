// internal/models/section_test.go
package models

import (
	"testing"
)

// 测试用章节树：
//
//	root (level 1)
//	├── ch1 (level 2, 已写)
//	├── ch2 (level 2, 未写)
//	│   └── sc1 (level 3, 已写)
//	└── ch3 (level 2, 已写)
func testSections() []Section {
	return []Section{
		{ID: "ch3", Level: 2, ParentID: "root", Name: "Chapter 3", Content: "third", Order: 4},
		{ID: "root", Level: 1, ParentID: "", Name: "Act I", Order: 0},
		{ID: "sc1", Level: 3, ParentID: "ch2", Name: "Scene 1", Content: "scene text", Order: 3},
		{ID: "ch1", Level: 2, ParentID: "root", Name: "Chapter 1", Content: "first", Order: 1},
		{ID: "ch2", Level: 2, ParentID: "root", Name: "Chapter 2", Order: 2},
	}
}

func TestNewOutlineSortsByOrder(t *testing.T) {
	outline := NewOutline(testSections())

	want := []string{"root", "ch1", "ch2", "sc1", "ch3"}
	if len(outline.Sections) != len(want) {
		t.Fatalf("章节数不对: got %d, want %d", len(outline.Sections), len(want))
	}
	for i, id := range want {
		if outline.Sections[i].ID != id {
			t.Errorf("位置 %d 的章节不对: got %s, want %s", i, outline.Sections[i].ID, id)
		}
	}
}

func TestOutlineFind(t *testing.T) {
	outline := NewOutline(testSections())

	if sec := outline.Find("ch2"); sec == nil || sec.Name != "Chapter 2" {
		t.Errorf("Find 没有找到 ch2: %+v", sec)
	}
	if sec := outline.Find("missing"); sec != nil {
		t.Errorf("不存在的ID应该返回 nil, got %+v", sec)
	}
}

func TestOutlineFindByName(t *testing.T) {
	outline := NewOutline(testSections())

	// 不区分大小写的精确匹配优先
	if sec := outline.FindByName("chapter 2"); sec == nil || sec.ID != "ch2" {
		t.Errorf("精确匹配失败: %+v", sec)
	}

	// 包含匹配兜底："Scene" 命中 "Scene 1"
	if sec := outline.FindByName("scene"); sec == nil || sec.ID != "sc1" {
		t.Errorf("包含匹配失败: %+v", sec)
	}

	if sec := outline.FindByName(""); sec != nil {
		t.Errorf("空名称应该返回 nil, got %+v", sec)
	}
	if sec := outline.FindByName("nonexistent"); sec != nil {
		t.Errorf("未知名称应该返回 nil, got %+v", sec)
	}
}

func TestOutlineAncestors(t *testing.T) {
	outline := NewOutline(testSections())

	// sc1 的祖先链：父到根
	ancestors := outline.Ancestors("sc1")
	if len(ancestors) != 2 {
		t.Fatalf("祖先数不对: got %d, want 2", len(ancestors))
	}
	if ancestors[0].ID != "ch2" || ancestors[1].ID != "root" {
		t.Errorf("祖先顺序应为父到根: got %s, %s", ancestors[0].ID, ancestors[1].ID)
	}

	// 根没有祖先
	if ancestors := outline.Ancestors("root"); len(ancestors) != 0 {
		t.Errorf("根章节不应有祖先: got %d", len(ancestors))
	}
}

func TestOutlineAncestorsCycleGuard(t *testing.T) {
	// 构造非法的循环引用，Ancestors 必须终止
	outline := NewOutline([]Section{
		{ID: "a", Level: 2, ParentID: "b", Name: "A"},
		{ID: "b", Level: 2, ParentID: "a", Name: "B"},
	})

	ancestors := outline.Ancestors("a")
	if len(ancestors) > 2 {
		t.Errorf("循环引用下祖先链应该被截断: got %d", len(ancestors))
	}
}

func TestOutlineSiblings(t *testing.T) {
	outline := NewOutline(testSections())

	siblings := outline.Siblings("ch2")
	if len(siblings) != 2 {
		t.Fatalf("同级数不对: got %d, want 2", len(siblings))
	}
	if siblings[0].ID != "ch1" || siblings[1].ID != "ch3" {
		t.Errorf("同级章节不对: got %s, %s", siblings[0].ID, siblings[1].ID)
	}

	// 自身不算同级
	for _, s := range siblings {
		if s.ID == "ch2" {
			t.Error("Siblings 不应包含章节自身")
		}
	}

	if siblings := outline.Siblings("missing"); siblings != nil {
		t.Errorf("不存在的章节应返回 nil, got %v", siblings)
	}
}

func TestOutlineDescendants(t *testing.T) {
	outline := NewOutline(testSections())

	descendants := outline.Descendants("root")
	want := []string{"ch1", "ch2", "sc1", "ch3"}
	if len(descendants) != len(want) {
		t.Fatalf("后代数不对: got %d, want %d", len(descendants), len(want))
	}
	for i, id := range want {
		if descendants[i].ID != id {
			t.Errorf("后代顺序应按 Order: 位置 %d got %s, want %s", i, descendants[i].ID, id)
		}
	}

	if descendants := outline.Descendants("ch1"); len(descendants) != 0 {
		t.Errorf("叶子章节不应有后代: got %d", len(descendants))
	}
}

func TestOutlineWrittenSections(t *testing.T) {
	outline := NewOutline(testSections())

	written := outline.WrittenSections()
	if len(written) != 3 {
		t.Fatalf("已写章节数不对: got %d, want 3", len(written))
	}
	for _, s := range written {
		if !s.HasContent() {
			t.Errorf("WrittenSections 返回了未写章节: %s", s.ID)
		}
	}
}

func TestSectionHasContent(t *testing.T) {
	sec := Section{ID: "x"}
	if sec.HasContent() {
		t.Error("空内容章节 HasContent 应为 false")
	}
	sec.Content = "text"
	if !sec.HasContent() {
		t.Error("有内容章节 HasContent 应为 true")
	}
}
