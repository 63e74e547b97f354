// Package apperrors defines the stable machine-readable error codes the
// task core surfaces to callers, kept distinct from free-text messages.
package apperrors

import "errors"

const (
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeEnqueueFailed   = "ENQUEUE_FAILED"
	CodeTaskCancelled   = "TASK_CANCELLED"
	CodeWatchdogTimeout = "WATCHDOG_TIMEOUT"
	CodeInternalError   = "INTERNAL_ERROR"
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func InvalidParams(message string) *Error {
	return New(CodeInvalidParams, message)
}

// CodeOf extracts the stable code from an error chain, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

func IsInvalidParams(err error) bool {
	return CodeOf(err) == CodeInvalidParams
}
