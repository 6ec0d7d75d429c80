// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 编排错误分类
	// ErrorTypeClassification 推理服务不可达或返回格式错误；可降级到启发式路径
	ErrorTypeClassification ErrorType = "classification_failure"
	// ErrorTypeIntentValidation 意图在当前状态下不可执行；不会发起任何变更
	ErrorTypeIntentValidation ErrorType = "intent_validation_failure"
	// ErrorTypeRetrievalUnavailable 检索索引不存在；静默降级，不作为错误浮出
	ErrorTypeRetrievalUnavailable ErrorType = "retrieval_unavailable"
	// ErrorTypeGeneration 生成调用失败；以 error 类别聊天消息浮出
	ErrorTypeGeneration ErrorType = "generation_failure"
	// ErrorTypeRewriteStep 改写计划单步失败；记录后继续后续步骤
	ErrorTypeRewriteStep ErrorType = "rewrite_step_failure"
	// ErrorTypeReferenceAmbiguous 引用歧义；以澄清问题而不是猜测解决
	ErrorTypeReferenceAmbiguous ErrorType = "reference_ambiguous"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewClassificationError 创建意图分类错误
func NewClassificationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeClassification, message, originalError)
}

// NewRetrievalUnavailableError 创建检索不可用状态
func NewRetrievalUnavailableError(message string) *AppError {
	return NewAppError(ErrorTypeRetrievalUnavailable, message, nil)
}

// NewGenerationError 创建生成失败错误
func NewGenerationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGeneration, message, originalError)
}

// NewRewriteStepError 创建改写步骤失败错误
func NewRewriteStepError(sectionID string, originalError error) *AppError {
	return NewAppError(ErrorTypeRewriteStep,
		fmt.Sprintf("改写步骤失败: %s", sectionID), originalError)
}

// IsType 检查错误是否属于指定类型
func IsType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsClassificationError 检查是否为分类失败
func IsClassificationError(err error) bool {
	return IsType(err, ErrorTypeClassification)
}

// IsRetrievalUnavailable 检查是否为检索不可用状态
func IsRetrievalUnavailable(err error) bool {
	return IsType(err, ErrorTypeRetrievalUnavailable)
}

// IsGenerationError 检查是否为生成失败
func IsGenerationError(err error) bool {
	return IsType(err, ErrorTypeGeneration)
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeClassification:
		return "CLASSIFICATION_FAILURE"
	case ErrorTypeIntentValidation:
		return "INTENT_NOT_EXECUTABLE"
	case ErrorTypeRetrievalUnavailable:
		return "RETRIEVAL_UNAVAILABLE"
	case ErrorTypeGeneration:
		return "GENERATION_FAILURE"
	case ErrorTypeRewriteStep:
		return "REWRITE_STEP_FAILURE"
	case ErrorTypeReferenceAmbiguous:
		return "REFERENCE_AMBIGUOUS"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
