package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/publo/canvas-orchestrator/internal/api"
	"github.com/publo/canvas-orchestrator/internal/config"
	"github.com/publo/canvas-orchestrator/internal/di"
	"github.com/publo/canvas-orchestrator/internal/retrieval"
	"github.com/publo/canvas-orchestrator/internal/services"
	"github.com/publo/canvas-orchestrator/internal/storage"
	"github.com/publo/canvas-orchestrator/internal/utils"

	// 注册LLM提供商
	_ "github.com/publo/canvas-orchestrator/internal/llm/providers/anthropic"
	_ "github.com/publo/canvas-orchestrator/internal/llm/providers/openai"
)

// httpServer 抽象出HTTP服务器，便于测试时替换
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal
}

var instance *App

// GetApp 获取应用单例
func GetApp() *App {
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 返回依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 检查是否处于调试模式
func IsDebugMode() bool {
	if instance == nil || instance.config == nil {
		return false
	}
	return instance.config.DebugMode
}

// Initialize 初始化应用：配置、日志、服务、路由
func Initialize(dataDir string) error {
	if err := config.InitConfig(dataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	cfg := config.GetCurrentConfig()
	GetApp().config = cfg

	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	GetApp().router = router

	return nil
}

// initLogger 初始化日志系统
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	logFile := filepath.Join(logDir,
		fmt.Sprintf("orchestrator_%s.log", time.Now().Format("2006-01-02")))
	return utils.InitLogger(logFile)
}

// InitServices 按依赖顺序初始化并注册全部服务
//
// 注册顺序：基础设施（存储、LLM、检索）→ 无依赖服务 → 组合服务 → 编排器。
func InitServices() error {
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()
	logger := utils.GetLogger()

	// 文件存储
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	// LLM服务：无配置时降级为未就绪服务，分类退回模式匹配路径
	llmService, err := services.NewLLMService()
	if err != nil {
		logger.Warnf("LLM服务初始化失败，使用空服务: %v", err)
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	// 语义检索索引：缺失或打开失败时降级，不阻止启动
	var index retrieval.Index
	if cfg.RetrievalIndexPath != "" {
		sqliteIndex, err := retrieval.Open(cfg.RetrievalIndexPath)
		if err != nil {
			logger.Warnf("打开检索索引失败，语义检索不可用: %v", err)
		} else {
			index = sqliteIndex
			container.Register("retrievalIndex", sqliteIndex)
		}
	}

	// 基础服务
	contextService := services.NewContextService()
	container.Register("context", contextService)

	referenceService := services.NewReferenceService()
	container.Register("reference", referenceService)

	retrievalService := services.NewRetrievalService(index)
	container.Register("retrieval", retrievalService)

	sessionService := services.NewSessionService(fileStorage)
	container.Register("session", sessionService)

	templateService := services.NewTemplateService(cfg.TemplatesFile)
	container.Register("template", templateService)

	previewService := services.NewPreviewService()
	container.Register("preview", previewService)

	// 意图分类：模式匹配优先，LLM深度分类兜底
	intentService := services.NewIntentService(
		services.NewPatternClassifier(),
		services.NewDeepClassifier(llmService, cfg.ReasoningModel),
	)
	container.Register("intent", intentService)

	plannerService := services.NewPlannerService()
	container.Register("planner", plannerService)

	executorService := services.NewExecutorService(llmService, sessionService, templateService)
	container.Register("executor", executorService)

	// 编排器：组合全部子服务
	orchestratorService := services.NewOrchestratorService(
		contextService,
		referenceService,
		retrievalService,
		intentService,
		plannerService,
		executorService,
		sessionService,
		templateService,
		llmService,
	)
	container.Register("orchestrator", orchestratorService)

	logger.Infof("服务初始化完成，共注册 %d 个服务", len(container.GetNames()))
	return nil
}

// Run 启动HTTP服务器并等待关闭信号
func Run() error {
	app := GetApp()

	if app.server == nil {
		port := "8080"
		if app.config != nil && app.config.Port != "" {
			port = app.config.Port
		}
		app.server = &http.Server{
			Addr:    ":" + port,
			Handler: app.router,
		}
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-app.stopChan:
	}

	utils.GetLogger().Info("收到关闭信号，正在关闭服务器", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	app.cleanup()
	return nil
}

// cleanup 释放服务持有的资源
func (a *App) cleanup() {
	container := di.GetContainer()

	if index, ok := container.Get("retrievalIndex").(*retrieval.SQLiteIndex); ok && index != nil {
		if err := index.Close(); err != nil {
			utils.GetLogger().Warnf("关闭检索索引失败: %v", err)
		}
	}

	utils.GetLogger().Info("应用资源清理完成", nil)
}
