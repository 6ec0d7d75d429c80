// cmd/server/main.go
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/publo/canvas-orchestrator/internal/app"
	"github.com/publo/canvas-orchestrator/internal/config"
)

func main() {
	log.Println("启动 Publo 画布编排服务...")

	// 1. 加载基础配置（环境变量 + 可选的.env文件）
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)

	// 3. 初始化应用：配置系统、日志、服务、路由
	if err := app.Initialize(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	log.Println("应用初始化完成")

	// 4. 启动服务器并等待关闭信号
	log.Printf("服务器启动在端口 %s", baseConfig.Port)
	log.Printf("编排端点: http://localhost:%s/api/orchestrate", baseConfig.Port)

	if err := app.Run(); err != nil {
		log.Fatalf("服务器运行失败: %v", err)
	}

	log.Println("服务器已关闭")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "sessions"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
