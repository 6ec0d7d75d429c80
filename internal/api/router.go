// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/publo/canvas-orchestrator/internal/config"
	"github.com/publo/canvas-orchestrator/internal/di"
	"github.com/publo/canvas-orchestrator/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	orchestratorService, ok := container.Get("orchestrator").(*services.OrchestratorService)
	if !ok {
		return nil, fmt.Errorf("编排服务未正确初始化")
	}

	sessionService, ok := container.Get("session").(*services.SessionService)
	if !ok {
		return nil, fmt.Errorf("会话服务未正确初始化")
	}

	templateService, ok := container.Get("template").(*services.TemplateService)
	if !ok {
		return nil, fmt.Errorf("模板服务未正确初始化")
	}

	previewService, ok := container.Get("preview").(*services.PreviewService)
	if !ok {
		return nil, fmt.Errorf("预览服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	handler := NewHandler(
		orchestratorService,
		sessionService,
		templateService,
		previewService,
		llmService,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(requestIDMiddleware())
	r.Use(metricsMiddleware())

	// WebSocket 支持：画布的实时事件订阅
	r.GET("/ws/canvas/:id", handler.CanvasWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		api.GET("/health", handler.HealthCheck)

		// ===============================
		// 编排相关路由
		// ===============================
		api.POST("/orchestrate", OrchestrateRateLimit(), handler.Orchestrate)
		api.POST("/intent", handler.AnalyzeIntent)

		// ===============================
		// 会话相关路由
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.GET("", handler.ListSessions)
			sessionsGroup.GET("/:canvas_id/messages", handler.GetSessionMessages)
			sessionsGroup.DELETE("/:canvas_id/messages", handler.ClearSessionChat)
			sessionsGroup.DELETE("/:canvas_id", handler.DeleteSession)
		}

		// ===============================
		// 模板相关路由
		// ===============================
		templatesGroup := api.Group("/templates")
		{
			templatesGroup.GET("", handler.GetTemplates)
			templatesGroup.GET("/:id", handler.GetTemplate)
		}

		// ===============================
		// 预览相关路由
		// ===============================
		api.POST("/preview", handler.PreviewDocument)

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// 调试路由
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Canvas-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
