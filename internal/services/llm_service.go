// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/publo/canvas-orchestrator/internal/config"
	"github.com/publo/canvas-orchestrator/internal/llm"
	"github.com/publo/canvas-orchestrator/internal/models"
	"github.com/publo/canvas-orchestrator/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

// 各角色的降级模型映射：编排器用推理型，写作用生成型，编辑用轻量型
var providerRoleModels = map[string]map[models.SuggestedModel]string{
	"openai": {
		models.ModelOrchestrator: "gpt-4.1",
		models.ModelWriter:       "gpt-4.1",
		models.ModelEditor:       "gpt-4.1-mini",
	},
	"anthropic": {
		models.ModelOrchestrator: "claude-sonnet-4-5",
		models.ModelWriter:       "claude-sonnet-4-5",
		models.ModelEditor:       "claude-haiku-4-5",
	},
}

// LLMService 提供统一的大语言模型调用接口
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	cache         *LLMCache
	isReady       bool
	readyState    string
	defaultModel  string
}

type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
}

type CacheEntry struct {
	Response  *llm.CompletionResponse
	CreatedAt time.Time
}

// NewLLMService 创建一个新的LLM服务
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service, nil
	}

	if cfg.LLMProvider == "" || (cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] == "") {
		service.readyState = "API key not configured"
		return service, nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service, nil // 返回未就绪服务而不是错误
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	if cfg.LLMConfig != nil {
		service.defaultModel = cfg.LLMConfig["default_model"]
	}
	service.isReady = true
	service.readyState = "Ready"

	return service, nil
}

// NewEmptyLLMService 创建一个空的LLM服务实例作为后备方案
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "Standby Service Mode – Please configure the API key in settings"
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		readyState: "Uninitialized",
		cache: &LLMCache{
			cache:      make(map[string]*CacheEntry),
			expiration: 30 * time.Minute,
		},
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider != nil && s.isReady {
		return "Ready"
	}
	return s.readyState
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	if s.IsReady() {
		return true, "Ready"
	}
	return false, s.GetReadyState()
}

// GetProviderName 返回当前提供商名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.defaultModel = providerConfig["default_model"]
	s.isReady = true
	s.readyState = "Ready"

	// 换提供商后缓存失效
	s.cache = &LLMCache{
		cache:      make(map[string]*CacheEntry),
		expiration: 30 * time.Minute,
	}

	return nil
}

// ModelForRole 把建议的模型角色解析成当前提供商的具体模型
//
// 配置里显式指定 default_model 时覆盖角色映射。
func (s *LLMService) ModelForRole(role models.SuggestedModel) string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.defaultModel != "" {
		return s.defaultModel
	}
	if roleModels, ok := providerRoleModels[s.providerName]; ok {
		if model, ok := roleModels[role]; ok {
			return model
		}
	}
	return ""
}

// CompleteText 执行一次非流式补全，带TTL缓存
func (s *LLMService) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	s.providerMutex.RUnlock()

	if !ready || provider == nil {
		return nil, ErrLLMNotReady
	}

	cacheKey := s.generateCacheKey(req.Prompt, req.SystemPrompt, req.Model)
	if cached := s.cache.getFromCache(cacheKey); cached != nil {
		utils.GetLogger().Debugf("LLM缓存命中: %s", cacheKey[:8])
		return cached, nil
	}

	started := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return nil, err
	}
	utils.NewAPIMetrics().RecordLLMRequest(s.GetProviderName(), req.Model, resp.TokensUsed, time.Since(started))

	s.cache.saveToCache(cacheKey, resp)
	return resp, nil
}

// StreamCompletion 执行一次流式补全
//
// 流式结果不缓存；返回的通道在 Done 消息后关闭。
func (s *LLMService) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	s.providerMutex.RUnlock()

	if !ready || provider == nil {
		return nil, ErrLLMNotReady
	}

	return provider.StreamCompletion(ctx, req)
}

// generateCacheKey 生成缓存键
func (s *LLMService) generateCacheKey(prompt, systemPrompt, model string) string {
	s.providerMutex.RLock()
	providerName := s.providerName
	s.providerMutex.RUnlock()

	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s", prompt, systemPrompt, model, providerName)
	h := md5.New()
	h.Write([]byte(hashInput))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (c *LLMCache) getFromCache(key string) *llm.CompletionResponse {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil
	}
	if time.Since(entry.CreatedAt) > c.expiration {
		return nil
	}
	return entry.Response
}

func (c *LLMCache) saveToCache(key string, response *llm.CompletionResponse) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{
		Response:  response,
		CreatedAt: time.Now(),
	}

	if len(c.cache) > 1000 {
		c.cleanupOldest(100)
	}
}

// cleanupOldest 清理最旧的缓存条目
func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	maxToDelete := count
	if len(entries) < maxToDelete {
		maxToDelete = len(entries)
	}
	for i := 0; i < maxToDelete; i++ {
		delete(c.cache, entries[i].key)
	}
}
