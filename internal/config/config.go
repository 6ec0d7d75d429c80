// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// 意图分类配置
	UseDeepReasoning bool   `json:"use_deep_reasoning"` // 默认是否先走深度推理路径
	ReasoningModel   string `json:"reasoning_model"`    // 深度分类使用的模型

	// 检索配置
	RetrievalIndexPath string `json:"retrieval_index_path"` // 语义检索索引文件，空或不存在则降级

	// 模板配置
	TemplatesFile string `json:"templates_file"` // 结构模板目录文件（YAML），空则使用内置模板
}

// Config 存储应用配置
type Config struct {
	Port               string
	OpenAIAPIKey       string
	AnthropicAPIKey    string
	DataDir            string
	LogDir             string
	DebugMode          bool
	UseDeepReasoning   bool
	RetrievalIndexPath string
	TemplatesFile      string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:               getEnv("PORT", "8080"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		DataDir:            getEnvPath("DATA_DIR", "data"),
		LogDir:             getEnvPath("LOG_DIR", "logs"),
		DebugMode:          getEnvBool("DEBUG_MODE", true),
		UseDeepReasoning:   getEnvBool("USE_DEEP_REASONING", false),
		RetrievalIndexPath: getEnv("RETRIEVAL_INDEX_PATH", ""),
		TemplatesFile:      getEnv("TEMPLATES_FILE", ""),
	}

	if config.OpenAIAPIKey == "" && config.AnthropicAPIKey == "" {
		// 只记录警告，不返回错误：没有密钥时分类退回启发式路径，生成不可用
		log.Println("警告: 未设置任何LLM API密钥，深度分类和内容生成将不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	provider := "openai"
	apiKey := baseConfig.OpenAIAPIKey
	if apiKey == "" && baseConfig.AnthropicAPIKey != "" {
		provider = "anthropic"
		apiKey = baseConfig.AnthropicAPIKey
	}

	currentConfig = &AppConfig{
		Port:               baseConfig.Port,
		DataDir:            baseConfig.DataDir,
		LogDir:             baseConfig.LogDir,
		DebugMode:          baseConfig.DebugMode,
		LLMProvider:        provider,
		LLMConfig:          map[string]string{"api_key": apiKey},
		UseDeepReasoning:   baseConfig.UseDeepReasoning,
		RetrievalIndexPath: baseConfig.RetrievalIndexPath,
		TemplatesFile:      baseConfig.TemplatesFile,
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置：保留文件中的LLM设置，基础配置以环境变量为准
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				if savedConfig.LLMConfig != nil && savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = apiKey
				}

				currentConfig = &savedConfig
			}
		}
	}

	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:             baseConfig.Port,
			DataDir:          baseConfig.DataDir,
			LogDir:           baseConfig.LogDir,
			DebugMode:        baseConfig.DebugMode,
			UseDeepReasoning: baseConfig.UseDeepReasoning,
			LLMConfig:        map[string]string{"api_key": baseConfig.OpenAIAPIKey},
		}
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return SaveConfig()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
