// internal/services/template_service.go
package services

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	apperrors "github.com/publo/canvas-orchestrator/internal/errors"
	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

// 格式检测词表：消息里出现这些词就认为用户点名了该格式
var formatKeywords = map[string]string{
	"novel":      "novel",
	"story":      "novel",
	"book":       "novel",
	"screenplay": "screenplay",
	"script":     "screenplay",
	"movie":      "screenplay",
	"film":       "screenplay",
	"podcast":    "podcast",
	"episode":    "podcast",
	"report":     "report",
	"paper":      "report",
	"essay":      "report",
}

var formatDetectPattern = regexp.MustCompile(`(?i)\b(novel|story|book|screenplay|script|movie|film|podcast|episode|report|paper|essay)\b`)

// TemplateService 管理文档结构模板目录
//
// 目录启动时加载一次，之后只读。外部YAML文件可以覆盖或追加内置目录。
type TemplateService struct {
	templates []models.StructureTemplate
}

// NewTemplateService 创建模板服务并加载目录
//
// yamlPath 为空或文件不存在时只用内置目录。
func NewTemplateService(yamlPath string) *TemplateService {
	s := &TemplateService{templates: builtinTemplates()}

	if yamlPath != "" {
		if err := s.loadFromYAML(yamlPath); err != nil {
			utils.GetLogger().Warnf("加载模板文件失败，使用内置目录: %v", err)
		}
	}

	return s
}

// loadFromYAML 从YAML文件加载模板，同ID覆盖内置模板
func (s *TemplateService) loadFromYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var loaded struct {
		Templates []models.StructureTemplate `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("模板文件格式错误: %w", err)
	}

	for _, tpl := range loaded.Templates {
		if tpl.ID == "" || tpl.Format == "" {
			continue
		}
		replaced := false
		for i := range s.templates {
			if s.templates[i].ID == tpl.ID {
				s.templates[i] = tpl
				replaced = true
				break
			}
		}
		if !replaced {
			s.templates = append(s.templates, tpl)
		}
	}

	utils.GetLogger().Infof("模板目录加载完成，共 %d 个模板", len(s.templates))
	return nil
}

// All 返回全部模板
func (s *TemplateService) All() []models.StructureTemplate {
	return s.templates
}

// Get 按ID查找模板
func (s *TemplateService) Get(id string) (*models.StructureTemplate, error) {
	for i := range s.templates {
		if s.templates[i].ID == id {
			return &s.templates[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("模板不存在: %s", id), nil)
}

// TemplatesForFormat 返回指定格式的全部模板
func (s *TemplateService) TemplatesForFormat(format string) []models.StructureTemplate {
	var out []models.StructureTemplate
	for _, tpl := range s.templates {
		if strings.EqualFold(tpl.Format, format) {
			out = append(out, tpl)
		}
	}
	return out
}

// DetectFormat 从消息中检测用户点名的文档格式，未点名返回空串
func (s *TemplateService) DetectFormat(message string) string {
	match := formatDetectPattern.FindString(strings.ToLower(message))
	if match == "" {
		return ""
	}
	return formatKeywords[match]
}

// MatchTemplate 在指定格式的模板里匹配用户的选择回复
//
// 先按模板名精确/包含匹配，再按关键词匹配（"the interview one" 命中
// 带 interview 关键词的模板）。无法判定返回 nil。
func (s *TemplateService) MatchTemplate(format, reply string) *models.StructureTemplate {
	candidates := s.TemplatesForFormat(format)
	if len(candidates) == 0 {
		return nil
	}

	lower := strings.ToLower(reply)

	for i := range candidates {
		if strings.Contains(lower, strings.ToLower(candidates[i].Name)) {
			return &candidates[i]
		}
	}

	for i := range candidates {
		for _, kw := range candidates[i].Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return &candidates[i]
			}
		}
	}

	// 格式只有一个模板时，任何肯定答复都视为选中它
	if len(candidates) == 1 && affirmativeReply(lower) {
		return &candidates[0]
	}

	return nil
}

func affirmativeReply(lower string) bool {
	for _, word := range []string{"yes", "sure", "ok", "okay", "that one", "sounds good", "go ahead"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// InstantiateSections 把模板展开成章节列表
//
// 每个章节分配新的UUID；父子关系按层级栈推导：每个章节的父级是
// 它前面最近的更高层级章节。
func (s *TemplateService) InstantiateSections(tpl *models.StructureTemplate) []models.Section {
	sections := make([]models.Section, 0, len(tpl.Sections))

	type stackEntry struct {
		id    string
		level int
	}
	var stack []stackEntry

	for i, ts := range tpl.Sections {
		id := uuid.New().String()

		for len(stack) > 0 && stack[len(stack)-1].level >= ts.Level {
			stack = stack[:len(stack)-1]
		}
		parentID := ""
		if len(stack) > 0 {
			parentID = stack[len(stack)-1].id
		}
		stack = append(stack, stackEntry{id: id, level: ts.Level})

		sections = append(sections, models.Section{
			ID:       id,
			Level:    ts.Level,
			ParentID: parentID,
			Name:     ts.Name,
			Summary:  ts.Summary,
			Order:    i,
		})
	}

	return sections
}

// builtinTemplates 内置模板目录
func builtinTemplates() []models.StructureTemplate {
	return []models.StructureTemplate{
		{
			ID:          "three-act",
			Format:      "novel",
			Name:        "Three-Act Novel",
			Description: "Classic three-act structure with chapters",
			Keywords:    []string{"three act", "classic", "traditional"},
			Sections: []models.TemplateSection{
				{Name: "Act I: Setup", Level: 1, Summary: "Introduce the world, characters and the inciting incident"},
				{Name: "Chapter 1", Level: 2, Summary: "Opening scene and protagonist introduction"},
				{Name: "Chapter 2", Level: 2, Summary: "The inciting incident"},
				{Name: "Act II: Confrontation", Level: 1, Summary: "Rising stakes and complications"},
				{Name: "Chapter 3", Level: 2, Summary: "First obstacle"},
				{Name: "Chapter 4", Level: 2, Summary: "Midpoint reversal"},
				{Name: "Chapter 5", Level: 2, Summary: "All is lost moment"},
				{Name: "Act III: Resolution", Level: 1, Summary: "Climax and resolution"},
				{Name: "Chapter 6", Level: 2, Summary: "Final confrontation"},
				{Name: "Chapter 7", Level: 2, Summary: "Denouement"},
			},
		},
		{
			ID:          "heros-journey",
			Format:      "novel",
			Name:        "Hero's Journey",
			Description: "Monomyth structure for adventure stories",
			Keywords:    []string{"hero", "journey", "adventure", "monomyth"},
			Sections: []models.TemplateSection{
				{Name: "Ordinary World", Level: 1, Summary: "The hero's life before the adventure"},
				{Name: "Call to Adventure", Level: 1, Summary: "The challenge that disrupts the ordinary world"},
				{Name: "Crossing the Threshold", Level: 1, Summary: "The hero commits to the journey"},
				{Name: "Trials and Allies", Level: 1, Summary: "Tests, friends and enemies"},
				{Name: "The Ordeal", Level: 1, Summary: "The hero's greatest challenge"},
				{Name: "The Return", Level: 1, Summary: "The hero returns transformed"},
			},
		},
		{
			ID:          "feature",
			Format:      "screenplay",
			Name:        "Feature Film",
			Description: "Standard feature screenplay structure",
			Keywords:    []string{"feature", "film", "movie"},
			Sections: []models.TemplateSection{
				{Name: "Act One", Level: 1, Summary: "Setup and inciting incident (pages 1-30)"},
				{Name: "Opening Image", Level: 2, Summary: "The visual that sets the tone"},
				{Name: "Catalyst", Level: 2, Summary: "The event that changes everything"},
				{Name: "Act Two", Level: 1, Summary: "Confrontation (pages 30-90)"},
				{Name: "B Story", Level: 2, Summary: "The secondary plot line"},
				{Name: "Midpoint", Level: 2, Summary: "False victory or false defeat"},
				{Name: "Act Three", Level: 1, Summary: "Resolution (pages 90-110)"},
				{Name: "Finale", Level: 2, Summary: "The climax and resolution"},
			},
		},
		{
			ID:          "interview",
			Format:      "podcast",
			Name:        "Interview Episode",
			Description: "Host-and-guest interview format",
			Keywords:    []string{"interview", "guest", "conversation"},
			Sections: []models.TemplateSection{
				{Name: "Cold Open", Level: 1, Summary: "A teaser clip from the conversation"},
				{Name: "Intro", Level: 1, Summary: "Show intro and guest introduction"},
				{Name: "Background", Level: 1, Summary: "The guest's story and background"},
				{Name: "Main Discussion", Level: 1, Summary: "The core interview topics"},
				{Name: "Rapid Fire", Level: 1, Summary: "Quick questions segment"},
				{Name: "Outro", Level: 1, Summary: "Wrap-up and calls to action"},
			},
		},
		{
			ID:          "narrative",
			Format:      "podcast",
			Name:        "Narrative Episode",
			Description: "Scripted storytelling format",
			Keywords:    []string{"narrative", "documentary", "storytelling"},
			Sections: []models.TemplateSection{
				{Name: "Hook", Level: 1, Summary: "The opening moment that grabs attention"},
				{Name: "Setup", Level: 1, Summary: "Context and stakes"},
				{Name: "Development", Level: 1, Summary: "The story unfolds"},
				{Name: "Climax", Level: 1, Summary: "The turning point"},
				{Name: "Reflection", Level: 1, Summary: "What it all means"},
			},
		},
		{
			ID:          "standard-report",
			Format:      "report",
			Name:        "Standard Report",
			Description: "General-purpose report structure",
			Keywords:    []string{"standard", "general", "formal"},
			Sections: []models.TemplateSection{
				{Name: "Executive Summary", Level: 1, Summary: "Key findings at a glance"},
				{Name: "Introduction", Level: 1, Summary: "Scope and objectives"},
				{Name: "Methodology", Level: 1, Summary: "How the work was done"},
				{Name: "Findings", Level: 1, Summary: "The detailed results"},
				{Name: "Recommendations", Level: 1, Summary: "Suggested next steps"},
				{Name: "Conclusion", Level: 1, Summary: "Summary and closing remarks"},
			},
		},
	}
}
