package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// 生成任务错误码
const (
	// ErrInvalidArgument 请求校验失败，未触网、未触 registry
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrDuplicateTaskID registry 不变量被破坏（内部逻辑错误）
	ErrDuplicateTaskID ErrorCode = "DUPLICATE_TASK_ID"
	// ErrInvalidTransition 任务状态机非法迁移（内部逻辑错误）
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrTaskFailed 后端明确报告任务失败，错误信息原样透传
	ErrTaskFailed ErrorCode = "TASK_FAILED"
	// ErrTimeout 轮询预算耗尽
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrCancelled 调用方主动取消
	ErrCancelled ErrorCode = "CANCELLED"
	// ErrTransientNetwork 网络/5xx 瞬时错误，执行器内部重试
	ErrTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
)

// Error represents a structured error with code, message, and metadata.
// 终端错误始终携带足够的结构化信息（code + message + 可选后端负载），
// 上层无需字符串匹配即可格式化展示。
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Retryable  bool          `json:"retryable"`
	Backend    string        `json:"backend,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	Cause      error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code reported by the backend.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithBackend sets the backend capability name.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithAttempts records how many poll attempts were made.
func (e *Error) WithAttempts(attempts int) *Error {
	e.Attempts = attempts
	return e
}

// WithElapsed records the wall-clock time spent before failing.
func (e *Error) WithElapsed(elapsed time.Duration) *Error {
	e.Elapsed = elapsed
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
// 非结构化错误返回空串。
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// AsError extracts a *Error from err, or wraps err as an internal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(ErrTaskFailed, err.Error()).WithCause(err)
}
