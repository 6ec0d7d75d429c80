// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// 编排相关错误
	ErrorOrchestrationFailed = "ORCHESTRATION_FAILED"
	ErrorIntentInvalid       = "INTENT_INVALID"
	ErrorCanvasInvalid       = "CANVAS_INVALID"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"

	// 模板相关错误
	ErrorTemplateNotFound = "TEMPLATE_NOT_FOUND"

	// 预览相关错误
	ErrorPreviewFailed = "PREVIEW_FAILED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// 配置健康相关
	ErrorConfigNotLoaded    = "CONFIG_NOT_LOADED"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
	ErrorAPIKeyMissing      = "API_KEY_MISSING"
)
