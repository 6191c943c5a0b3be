package errprocess

import (
	"errors"
	"fmt"

	"video_platform_service/pkg/logger"
)

// 錯誤分類，用 errors.Is 判斷
var (
	// ErrNotFound 资源不存在 (404)
	ErrNotFound = errors.New("not found")
	// ErrForbidden 無權限存取 (403)
	ErrForbidden = errors.New("forbidden")
	// ErrValidation 請求驗證失敗 (400)
	ErrValidation = errors.New("validation failed")
	// ErrTransient 暫時性處理錯誤，可重試
	ErrTransient = errors.New("transient processing error")
	// ErrFatal 致命處理錯誤，不可重試，進 dead letter
	ErrFatal = errors.New("fatal processing error")
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// NotFound 包裝 ErrNotFound
func NotFound(errMsg string) error {
	logger.Log.Error(errMsg)
	return fmt.Errorf("%s: %w", errMsg, ErrNotFound)
}

// Forbidden 包裝 ErrForbidden
func Forbidden(errMsg string) error {
	logger.Log.Error(errMsg)
	return fmt.Errorf("%s: %w", errMsg, ErrForbidden)
}

// Validation 包裝 ErrValidation
func Validation(errMsg string) error {
	logger.Log.Error(errMsg)
	return fmt.Errorf("%s: %w", errMsg, ErrValidation)
}

// Transient 包裝 ErrTransient，worker 依此決定重試
func Transient(errMsg string) error {
	logger.Log.Error(errMsg)
	return fmt.Errorf("%s: %w", errMsg, ErrTransient)
}

// Fatal 包裝 ErrFatal，worker 依此直接進 dead letter
func Fatal(errMsg string) error {
	logger.Log.Error(errMsg)
	return fmt.Errorf("%s: %w", errMsg, ErrFatal)
}

// IsRetryable 非致命、非驗證類錯誤視為可重試
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) || errors.Is(err, ErrValidation) {
		return false
	}
	return true
}
