package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"

	// Gateway admission/execution codes.
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeQueueFull        ErrorCode = "QUEUE_FULL"
	CodeQueueTimeout     ErrorCode = "QUEUE_TIMEOUT"
	CodeExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT"
	CodeUpstreamError    ErrorCode = "UPSTREAM_ERROR"
	CodeParseError       ErrorCode = "PARSE_ERROR"
	CodeShutdown         ErrorCode = "SHUTDOWN"
	CodeStdinWrite       ErrorCode = "STDIN_WRITE_ERROR"
)

// ErrorType is the OpenAI-compatible error envelope type string.
type ErrorType string

const (
	TypeInvalidRequest ErrorType = "invalid_request_error"
	TypeAuthentication ErrorType = "authentication_error"
	TypeRateLimit      ErrorType = "rate_limit_error"
	TypeServerError    ErrorType = "server_error"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
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

// NewInvalidArgument reports a malformed or rejected request parameter
// (empty query, oversized/deep JSON, malformed UUID, oversized body, ...).
func NewInvalidArgument(message string) *AppError {
	return &AppError{Code: CodeInvalidArgument, Message: message}
}

// NewRateLimited reports a sliding-window admission rejection.
func NewRateLimited(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

// NewQueueFull reports pool back-pressure with no fallback permitted.
func NewQueueFull(message string) *AppError {
	return &AppError{Code: CodeQueueFull, Message: message}
}

// NewQueueTimeout reports a queued item that aged out before dispatch.
func NewQueueTimeout(message string) *AppError {
	return &AppError{Code: CodeQueueTimeout, Message: message}
}

// NewExecutionTimeout reports a subprocess wall-clock timeout.
func NewExecutionTimeout(message string) *AppError {
	return &AppError{Code: CodeExecutionTimeout, Message: message}
}

// NewUpstreamError reports a non-2xx response from a remote backend.
// text is truncated to 500 characters per spec.
func NewUpstreamError(text string) *AppError {
	if len(text) > 500 {
		text = text[:500]
	}
	return &AppError{Code: CodeUpstreamError, Message: text}
}

// NewStdinWriteError reports a failed write of the query to the subprocess's
// stdin; the process has already been killed by the time this is returned.
func NewStdinWriteError(message string) *AppError {
	return &AppError{Code: CodeStdinWrite, Message: message}
}

// NewParseError reports a CLI stdout payload that failed to parse as JSON.
func NewParseError(message string) *AppError {
	return &AppError{Code: CodeParseError, Message: message}
}

// NewShutdown reports a request rejected because the owning pool is draining.
func NewShutdown(message string) *AppError {
	return &AppError{Code: CodeShutdown, Message: message}
}

// Code returns the AppError's code, or CodeInternal if err is not an AppError.
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error's code to its HTTP status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeInvalidArgument, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeQueueFull, CodeQueueTimeout, CodeShutdown:
		return http.StatusServiceUnavailable
	case CodeExecutionTimeout:
		return http.StatusInternalServerError
	case CodeUpstreamError, CodeInternal, CodeStdinWrite:
		return http.StatusInternalServerError
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// EnvelopeType maps an error's code to the OpenAI-compatible error envelope
// "type" field.
func EnvelopeType(err error) ErrorType {
	switch Code(err) {
	case CodeInvalidArgument, CodeInvalidInput, CodeNotFound:
		return TypeInvalidRequest
	case CodeUnauthorized, CodeForbidden:
		return TypeAuthentication
	case CodeRateLimited:
		return TypeRateLimit
	default:
		return TypeServerError
	}
}

// EnvelopeCode maps an error's code to a short snake_case code string used
// in the error envelope's "code" field for server_error responses.
func EnvelopeCode(err error) string {
	switch Code(err) {
	case CodeQueueFull:
		return "queue_full"
	case CodeQueueTimeout:
		return "queue_timeout"
	case CodeExecutionTimeout:
		return "execution_timeout"
	case CodeUpstreamError:
		return "upstream_error"
	case CodeShutdown:
		return "shutdown"
	default:
		return strings.ToLower(string(Code(err)))
	}
}

// Message returns the client-safe text for err: an AppError's own Message,
// or a generic string for anything else, so a stray internal error never
// leaks a stack-frame-bearing Go error string to a caller.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an internal error occurred"
}

// Retryable reports whether the client may usefully retry the request.
func Retryable(err error) bool {
	switch Code(err) {
	case CodeQueueFull, CodeQueueTimeout, CodeRateLimited:
		return true
	default:
		return false
	}
}
