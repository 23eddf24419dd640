package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRequestFailed  ErrorCode = "REQUEST_FAILED"
	CodeUploadRejected ErrorCode = "UPLOAD_REJECTED"
	CodeCancelled      ErrorCode = "CANCELLED"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	// Status is the HTTP status that produced the error, 0 when not from a response.
	Status int
	Err    error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewUnauthorizedError 创建未认证错误 (401)
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  401,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// NewUploadRejectedError 创建上传约束错误
func NewUploadRejectedError(message string) *AppError {
	return &AppError{
		Code:    CodeUploadRejected,
		Message: message,
	}
}

// NewCancelledError 创建用户取消错误
func NewCancelledError(message string) *AppError {
	return &AppError{
		Code:    CodeCancelled,
		Message: message,
	}
}

// FromStatus maps a non-2xx backend response to an AppError. Statuses without
// a dedicated code become REQUEST_FAILED.
func FromStatus(status int, message string) *AppError {
	code := CodeRequestFailed
	switch {
	case status == 400 || status == 422:
		code = CodeInvalidInput
	case status == 401:
		code = CodeUnauthorized
	case status == 403:
		code = CodeForbidden
	case status == 404:
		code = CodeNotFound
	case status == 502 || status == 503 || status == 504:
		code = CodeServiceUnavail
	}
	return &AppError{Code: code, Message: message, Status: status}
}

// StatusOf returns the HTTP status behind err, 0 if it did not come from a response.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	return hasCode(err, CodeInvalidInput)
}

// IsUnauthorized 判断是否为未认证错误
func IsUnauthorized(err error) bool {
	return hasCode(err, CodeUnauthorized)
}

// IsUploadRejected 判断是否为上传约束错误
func IsUploadRejected(err error) bool {
	return hasCode(err, CodeUploadRejected)
}

// IsCancelled 判断是否为用户取消
func IsCancelled(err error) bool {
	return hasCode(err, CodeCancelled)
}

// IsForbidden 判断是否为权限不足
func IsForbidden(err error) bool {
	return hasCode(err, CodeForbidden)
}

// IsServiceUnavailable reports a gateway or overload status from the backend.
func IsServiceUnavailable(err error) bool {
	return hasCode(err, CodeServiceUnavail)
}
