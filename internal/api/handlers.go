// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/publo/canvas-orchestrator/internal/config"
	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/services"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	OrchestratorService *services.OrchestratorService // 编排服务
	SessionService      *services.SessionService      // 会话服务
	TemplateService     *services.TemplateService     // 模板服务
	PreviewService      *services.PreviewService      // 预览服务
	LLMService          *services.LLMService          // LLM服务
	Response            *ResponseHelper               // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	orchestratorService *services.OrchestratorService,
	sessionService *services.SessionService,
	templateService *services.TemplateService,
	previewService *services.PreviewService,
	llmService *services.LLMService,
) *Handler {
	return &Handler{
		OrchestratorService: orchestratorService,
		SessionService:      sessionService,
		TemplateService:     templateService,
		PreviewService:      previewService,
		LLMService:          llmService,
		Response:            NewResponseHelper(),
	}
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// OrchestrateAPIRequest 编排请求体
type OrchestrateAPIRequest struct {
	CanvasID         string                    `json:"canvas_id" binding:"required"`
	Message          string                    `json:"message" binding:"required"`
	OrchestratorID   string                    `json:"orchestrator_id" binding:"required"`
	Nodes            []models.Node             `json:"nodes"`
	Edges            []models.Edge             `json:"edges"`
	Overrides        services.ContentOverrides `json:"content_overrides,omitempty"`
	ActiveSection    *models.ActiveSection     `json:"active_section,omitempty"`
	DocumentOpen     bool                      `json:"document_panel_open"`
	DocumentFormat   string                    `json:"document_format,omitempty"`
	UseDeepReasoning bool                      `json:"use_deep_reasoning"`
}

func (r *OrchestrateAPIRequest) toServiceRequest() *services.OrchestrateRequest {
	return &services.OrchestrateRequest{
		CanvasID:       r.CanvasID,
		Message:        r.Message,
		OrchestratorID: r.OrchestratorID,
		Nodes:          r.Nodes,
		Edges:          r.Edges,
		Overrides:      r.Overrides,
		ActiveSection:  r.ActiveSection,
		DocumentOpen:   r.DocumentOpen,
		DocumentFormat: r.DocumentFormat,
		// 配置里开了深度推理时对所有请求生效，请求标记只能再加强
		UseDeepReasoning: r.UseDeepReasoning || config.GetCurrentConfig().UseDeepReasoning,
	}
}

// ------------------------------------------------
// 编排端点
// ------------------------------------------------

// Orchestrate 处理一条用户消息的完整编排流程
func (h *Handler) Orchestrate(c *gin.Context) {
	var req OrchestrateAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	serviceReq := req.toServiceRequest()
	// 内容增量通过 WebSocket 推送给画布订阅者
	serviceReq.OnStream = func(sectionID, delta string) {
		wsManager.BroadcastToCanvas(req.CanvasID, map[string]interface{}{
			"type":       "content_delta",
			"section_id": sectionID,
			"delta":      delta,
		})
	}

	result := h.OrchestratorService.Orchestrate(c.Request.Context(), serviceReq)

	// 完成事件同样推送到订阅者
	wsManager.BroadcastToCanvas(req.CanvasID, map[string]interface{}{
		"type":   "orchestration_done",
		"intent": result.Intent,
	})

	if !result.Success {
		c.JSON(http.StatusOK, &APIResponse{
			Success:   false,
			Data:      result,
			Error:     &APIError{Code: ErrorOrchestrationFailed, Message: result.Error},
			Timestamp: time.Now(),
			RequestID: h.Response.getRequestID(c),
		})
		return
	}

	h.Response.Success(c, result)
}

// AnalyzeIntent 只做意图分类，不执行动作
func (h *Handler) AnalyzeIntent(c *gin.Context) {
	var req OrchestrateAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	result := h.OrchestratorService.AnalyzeIntent(c.Request.Context(), req.toServiceRequest())
	h.Response.Success(c, result)
}

// ------------------------------------------------
// 会话端点
// ------------------------------------------------

// GetSessionMessages 返回画布的聊天记录
func (h *Handler) GetSessionMessages(c *gin.Context) {
	canvasID := c.Param("canvas_id")
	if canvasID == "" {
		h.Response.BadRequest(c, "缺少画布ID")
		return
	}

	messages := h.SessionService.GetMessages(canvasID)
	h.Response.Success(c, gin.H{
		"canvas_id": canvasID,
		"messages":  messages,
		"awaiting_template_choice": h.SessionService.IsAwaitingTemplateChoice(canvasID),
	})
}

// ClearSessionChat 清空画布的聊天记录和待创建槽位
func (h *Handler) ClearSessionChat(c *gin.Context) {
	canvasID := c.Param("canvas_id")
	if canvasID == "" {
		h.Response.BadRequest(c, "缺少画布ID")
		return
	}

	h.SessionService.ClearChat(canvasID)
	h.Response.Success(c, nil, "聊天记录已清空")
}

// DeleteSession 删除画布的全部会话数据
func (h *Handler) DeleteSession(c *gin.Context) {
	canvasID := c.Param("canvas_id")
	if canvasID == "" {
		h.Response.BadRequest(c, "缺少画布ID")
		return
	}

	if err := h.SessionService.DeleteSession(canvasID); err != nil {
		h.Response.InternalError(c, "删除会话失败", err.Error())
		return
	}
	h.Response.Success(c, nil, "会话已删除")
}

// ListSessions 列出全部会话
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.SessionService.ListSessions()
	if err != nil {
		h.Response.InternalError(c, "获取会话列表失败", err.Error())
		return
	}
	h.Response.Success(c, gin.H{"sessions": sessions})
}

// ------------------------------------------------
// 模板端点
// ------------------------------------------------

// GetTemplates 返回模板目录，支持按格式过滤
func (h *Handler) GetTemplates(c *gin.Context) {
	format := c.Query("format")
	if format != "" {
		h.Response.Success(c, h.TemplateService.TemplatesForFormat(format))
		return
	}
	h.Response.Success(c, h.TemplateService.All())
}

// GetTemplate 返回单个模板
func (h *Handler) GetTemplate(c *gin.Context) {
	tpl, err := h.TemplateService.Get(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "模板", err.Error())
		return
	}
	h.Response.Success(c, tpl)
}

// ------------------------------------------------
// 预览端点
// ------------------------------------------------

// PreviewRequest 文档预览请求体
type PreviewRequest struct {
	Title    string           `json:"title"`
	Sections []models.Section `json:"sections" binding:"required"`
}

// PreviewDocument 把章节树渲染成HTML预览
func (h *Handler) PreviewDocument(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	outline := models.NewOutline(req.Sections)
	html, err := h.PreviewService.RenderDocument(req.Title, outline)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorPreviewFailed, "预览渲染失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"html": html})
}

// ------------------------------------------------
// LLM配置端点
// ------------------------------------------------

// GetLLMStatus 返回LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"ready":    ready,
		"state":    state,
		"provider": h.LLMService.GetProviderName(),
	})
}

// GetLLMModels 返回各提供商支持的模型
func (h *Handler) GetLLMModels(c *gin.Context) {
	result := make(map[string][]string)
	for _, name := range llm.ListProviders() {
		result[name] = llm.GetSupportedModelsForProvider(name)
	}
	h.Response.Success(c, result)
}

// UpdateLLMConfigRequest LLM配置更新请求体
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config" binding:"required"`
}

// UpdateLLMConfig 更新LLM提供商配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	if err := h.LLMService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "LLM配置更新失败", err.Error())
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.Response.InternalError(c, "配置保存失败", err.Error())
		return
	}

	h.Response.Success(c, nil, "LLM配置已更新")
}

// ------------------------------------------------
// 健康检查
// ------------------------------------------------

// HealthCheck 返回服务健康状态
func (h *Handler) HealthCheck(c *gin.Context) {
	llmReady, llmState := h.LLMService.GetProviderStatus()

	status := "healthy"
	if !llmReady {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"llm_ready": llmReady,
		"llm_state": llmState,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetMetrics 返回运行指标（调试用）
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := wsManager.GetStatus()
	status["ping_timeout_seconds"] = int(wsManager.pingTimeout.Seconds())
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// BroadcastToCanvas 提供外部调用的广播方法
func (h *Handler) BroadcastToCanvas(canvasID string, message map[string]interface{}) {
	wsManager.BroadcastToCanvas(canvasID, message)
}
