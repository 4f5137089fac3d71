package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10099: System & Common errors
// 10100-10199: Cache errors
// 10200-10299: Task store errors
// 10300-10399: Validation errors
// 13000-13099: Task lifecycle errors
// 13100-13199: Remote engine errors
// 13200-13299: Callback errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10100-10199)
	CacheError ErrorCode = 10100

	// Task store errors (10200-10299)
	StoreError       ErrorCode = 10200
	StoreUnavailable ErrorCode = 10201
	StoreConflict    ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Task & Engine Errors (13000-13999) ==========

	// Task lifecycle (13000-13099)
	TaskNotFound           ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	PollerQueueFull        ErrorCode = 13002

	// Remote engine (13100-13199)
	RemoteProtocolError ErrorCode = 13100
	TransportError      ErrorCode = 13101
	RemoteRejected      ErrorCode = 13102

	// Callback (13200-13299)
	MalformedCallback ErrorCode = 13200
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	// Store
	StoreError:       "Task store operation failed",
	StoreUnavailable: "Task store is unavailable",
	StoreConflict:    "Task store update conflicted too many times",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Task
	TaskNotFound:           "Task not found",
	SubmissionCreateFailed: "Failed to create submission",
	PollerQueueFull:        "Poller queue is full",

	// Engine
	RemoteProtocolError: "Judge engine did not return a token",
	TransportError:      "Judge engine is unreachable",
	RemoteRejected:      "Judge engine rejected the request",

	// Callback
	MalformedCallback: "No token in callback payload",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound, c == TaskNotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == StoreUnavailable, c == PollerQueueFull:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 13100 && c < 13200: // Remote engine errors
		return http.StatusBadGateway
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == MalformedCallback:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
