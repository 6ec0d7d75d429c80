// internal/services/planner_service.go
package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/publo/canvas-orchestrator/internal/models"
)

// PlannerService 把意图结果展开成可执行的动作序列
//
// 规划是纯函数：相同的意图和状态总是得到相同的动作序列（ID除外）。
type PlannerService struct{}

// NewPlannerService 创建动作规划服务
func NewPlannerService() *PlannerService {
	return &PlannerService{}
}

// PlanInput 规划所需的状态快照
type PlanInput struct {
	Intent         *models.IntentResult
	Message        string
	ActiveSection  *models.ActiveSection
	Outline        *models.Outline
	Canvas         *models.CanvasContext
	Reference      *ReferenceResult
	DetectedFormat string
}

// PlanActions 按意图生成动作序列
func (s *PlannerService) PlanActions(in *PlanInput) []models.Action {
	switch in.Intent.Intent {
	case models.IntentWriteContent:
		return s.planWriteContent(in)
	case models.IntentImproveContent:
		return s.planImproveContent(in)
	case models.IntentAnswerQuestion:
		return []models.Action{{
			Type: models.ActionGenerateContent,
			Payload: models.ActionPayload{
				Prompt: in.Message,
				Mode:   models.GenerateAnswer,
			},
			Priority: models.PriorityNormal,
		}}
	case models.IntentCreateStructure:
		format := in.DetectedFormat
		if format == "" {
			format = in.Intent.ExtractedEntities["documentFormat"]
		}
		if format == "" {
			format = "novel"
		}
		return []models.Action{{
			Type: models.ActionModifyStructure,
			Payload: models.ActionPayload{
				Format: format,
				Prompt: in.Message,
			},
			Priority: models.PriorityHigh,
		}}
	case models.IntentModifyStructure:
		return []models.Action{{
			Type: models.ActionModifyStructure,
			Payload: models.ActionPayload{
				Prompt: in.Message,
			},
			Priority: models.PriorityHigh,
		}}
	case models.IntentNavigateSection:
		return s.planNavigate(in)
	case models.IntentOpenAndWrite:
		return s.planOpenAndWrite(in)
	case models.IntentDeleteNode:
		return s.planDeleteNode(in)
	case models.IntentGeneralChat:
		return []models.Action{{
			Type: models.ActionGenerateContent,
			Payload: models.ActionPayload{
				Prompt: in.Message,
				Mode:   models.GenerateAnswer,
			},
			Priority: models.PriorityLow,
		}}
	default:
		return nil
	}
}

// planWriteContent 生成写入章节的动作
func (s *PlannerService) planWriteContent(in *PlanInput) []models.Action {
	sectionID, sectionName := s.resolveTargetSection(in)

	return []models.Action{{
		Type: models.ActionGenerateContent,
		Payload: models.ActionPayload{
			SectionID:   sectionID,
			SectionName: sectionName,
			Prompt:      in.Message,
			Mode:        models.GenerateWrite,
		},
		Priority: models.PriorityNormal,
	}}
}

// planImproveContent 生成改进现有内容的动作
func (s *PlannerService) planImproveContent(in *PlanInput) []models.Action {
	sectionID, sectionName := s.resolveTargetSection(in)

	prompt := fmt.Sprintf("Improve the existing content of %q. %s", sectionName, in.Message)
	return []models.Action{{
		Type: models.ActionGenerateContent,
		Payload: models.ActionPayload{
			SectionID:   sectionID,
			SectionName: sectionName,
			Prompt:      prompt,
			Mode:        models.GenerateWrite,
		},
		Priority: models.PriorityNormal,
	}}
}

// planNavigate 生成章节选择动作
func (s *PlannerService) planNavigate(in *PlanInput) []models.Action {
	var sectionID, sectionName string
	if in.Outline != nil {
		if sec := resolveSectionByMessage(in.Outline, in.Message); sec != nil {
			sectionID = sec.ID
			sectionName = sec.Name
		}
	}
	if sectionName == "" {
		sectionName = in.Intent.ExtractedEntities["targetSectionName"]
	}

	return []models.Action{{
		Type: models.ActionSelectSection,
		Payload: models.ActionPayload{
			SectionID:   sectionID,
			SectionName: sectionName,
		},
		Priority: models.PriorityHigh,
	}}
}

// planOpenAndWrite 生成打开文档并写入的动作序列
func (s *PlannerService) planOpenAndWrite(in *PlanInput) []models.Action {
	var nodeID, nodeName string
	if in.Reference != nil && in.Reference.NodeID != "" {
		if node := in.Canvas.FindNode(in.Reference.NodeID); node != nil {
			nodeID = node.NodeID
			nodeName = node.Label
		}
	}
	if nodeID == "" && in.Canvas != nil {
		if node := in.Canvas.FirstOfType(models.NodeTypeDocumentStructure); node != nil {
			nodeID = node.NodeID
			nodeName = node.Label
		}
	}

	open := models.Action{
		Type: models.ActionOpenDocument,
		Payload: models.ActionPayload{
			NodeID:   nodeID,
			NodeName: nodeName,
		},
		Priority: models.PriorityHigh,
	}

	// 消息里点名了章节时顺带写入
	var sectionID, sectionName string
	if node := in.Canvas.FindNode(nodeID); node != nil && node.DetailedContext != nil {
		outline := models.NewOutline(node.DetailedContext.Outline)
		if sec := resolveSectionByMessage(outline, in.Message); sec != nil {
			sectionID = sec.ID
			sectionName = sec.Name
		}
	}

	actions := []models.Action{open}
	if sectionID != "" {
		actions = append(actions, models.Action{
			Type: models.ActionGenerateContent,
			Payload: models.ActionPayload{
				SectionID:   sectionID,
				SectionName: sectionName,
				NodeID:      nodeID,
				Prompt:      in.Message,
				Mode:        models.GenerateWrite,
			},
			Priority: models.PriorityNormal,
		})
	}
	return actions
}

// planDeleteNode 删除是破坏性操作，必须经过用户确认
func (s *PlannerService) planDeleteNode(in *PlanInput) []models.Action {
	var nodeID, nodeName string
	if in.Reference != nil && in.Reference.NodeID != "" {
		if node := in.Canvas.FindNode(in.Reference.NodeID); node != nil {
			nodeID = node.NodeID
			nodeName = node.Label
		}
	}

	content := "Which node would you like to delete?"
	if nodeName != "" {
		content = fmt.Sprintf("Delete %q? This cannot be undone. Please confirm.", nodeName)
	}

	return []models.Action{{
		Type: models.ActionMessage,
		Payload: models.ActionPayload{
			Content:  content,
			NodeID:   nodeID,
			NodeName: nodeName,
			Category: models.CategoryDecision,
		},
		RequiresUserInput: true,
		Priority:          models.PriorityHigh,
	}}
}

// resolveTargetSection 确定内容动作的目标章节
func (s *PlannerService) resolveTargetSection(in *PlanInput) (string, string) {
	if in.ActiveSection != nil {
		return in.ActiveSection.ID, in.ActiveSection.Name
	}
	if in.Outline != nil {
		if sec := resolveSectionByMessage(in.Outline, in.Message); sec != nil {
			return sec.ID, sec.Name
		}
	}
	return "", ""
}

// SelectStrategy 根据意图和动作数选择执行策略
func (s *PlannerService) SelectStrategy(intent *models.IntentResult, actions []models.Action) models.Strategy {
	switch intent.Intent {
	case models.IntentAnswerQuestion, models.IntentGeneralChat, models.IntentNavigateSection:
		return models.StrategySequential
	case models.IntentCreateStructure:
		return models.StrategySequential
	}

	if len(actions) >= 3 {
		return models.StrategyParallel
	}

	switch intent.Intent {
	case models.IntentWriteContent, models.IntentImproveContent:
		if intent.Confidence > 0.9 {
			return models.StrategyCluster
		}
	}

	return models.StrategySequential
}

// BuildRewritePlan 为连贯性改写构建按结构依赖排序的计划
//
// 顺序固定：祖先（根到父）先更新摘要，然后重写目标正文，再审校
// 同级一致性，最后重写已写的后代。空步骤直接跳过。
func (s *PlannerService) BuildRewritePlan(outline *models.Outline, targetID string) (*models.RewritePlan, error) {
	target := outline.Find(targetID)
	if target == nil {
		return nil, fmt.Errorf("目标章节不存在: %s", targetID)
	}

	plan := &models.RewritePlan{
		ID:              uuid.New().String(),
		TargetSectionID: targetID,
	}

	// Ancestors 返回父到根，这里反转成根到父
	ancestors := outline.Ancestors(targetID)
	for i := len(ancestors) - 1; i >= 0; i-- {
		anc := ancestors[i]
		plan.Steps = append(plan.Steps, models.RewriteStep{
			SectionID:   anc.ID,
			SectionName: anc.Name,
			Action:      models.RewriteUpdateSummary,
			Reason:      fmt.Sprintf("Update the summary of %q to reflect the changes in %q", anc.Name, target.Name),
		})
	}

	plan.Steps = append(plan.Steps, models.RewriteStep{
		SectionID:   target.ID,
		SectionName: target.Name,
		Action:      models.RewriteRewriteContent,
		Reason:      fmt.Sprintf("Rewrite %q as requested", target.Name),
	})

	for _, sib := range outline.Siblings(targetID) {
		if !sib.HasContent() {
			continue
		}
		plan.Steps = append(plan.Steps, models.RewriteStep{
			SectionID:   sib.ID,
			SectionName: sib.Name,
			Action:      models.RewriteReviewConsistency,
			Reason:      fmt.Sprintf("Review %q for consistency with the rewritten %q", sib.Name, target.Name),
		})
	}

	for _, desc := range outline.Descendants(targetID) {
		if !desc.HasContent() {
			continue
		}
		plan.Steps = append(plan.Steps, models.RewriteStep{
			SectionID:   desc.ID,
			SectionName: desc.Name,
			Action:      models.RewriteRewriteContent,
			Reason:      fmt.Sprintf("Rewrite %q so it follows from the changes in %q", desc.Name, target.Name),
		})
	}

	return plan, nil
}
