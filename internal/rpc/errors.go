package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

// JSON-RPC error codes. The standard codes cover protocol failures; the
// -32000 range carries this server's domain failures.
const (
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeSessionUninitialized = -32000
	CodeOverloaded           = -32000
	CodeUnavailable          = -32001
	CodeNotFound             = -32002
	CodePermissionDenied     = -32004
	CodeSearchFailed         = -32005
	CodeTimeout              = -32006
	CodeRateLimited          = -32007
)

// ErrorData is the structured payload attached to every wire error.
type ErrorData struct {
	Type       string  `json:"type"`
	Details    string  `json:"details"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// Error implements the error interface so handlers can return an
// *ErrorObject through ordinary error plumbing.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// InvalidRequest reports a malformed envelope or frame.
func InvalidRequest(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeInvalidRequest,
		Message: "invalid request",
		Data:    &ErrorData{Type: "ProtocolError", Details: details},
	}
}

// MethodNotFound reports an unknown method name.
func MethodNotFound(method string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeMethodNotFound,
		Message: "method not found",
		Data:    &ErrorData{Type: "ProtocolError", Details: fmt.Sprintf("unknown method %q", method)},
	}
}

// InvalidParams reports a parameter shape or range violation.
func InvalidParams(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeInvalidParams,
		Message: "invalid params",
		Data:    &ErrorData{Type: "ValidationError", Details: details},
	}
}

// Internal reports an unexpected failure. The details string must not
// leak mail content.
func Internal(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeInternalError,
		Message: "internal error",
		Data:    &ErrorData{Type: "InternalError", Details: details},
	}
}

// SessionUninitialized reports a call before the initialize handshake.
func SessionUninitialized() *ErrorObject {
	return &ErrorObject{
		Code:    CodeSessionUninitialized,
		Message: "session not initialized",
		Data:    &ErrorData{Type: "SessionError", Details: "the first call on a session must be initialize"},
	}
}

// Overloaded reports admission queue exhaustion.
func Overloaded() *ErrorObject {
	return &ErrorObject{
		Code:    CodeOverloaded,
		Message: "server overloaded",
		Data:    &ErrorData{Type: "Overloaded", Details: "too many concurrent requests"},
	}
}

// Unavailable reports that the mail store cannot be reached.
func Unavailable(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeUnavailable,
		Message: "outlook unavailable",
		Data:    &ErrorData{Type: "OutlookConnectionError", Details: details},
	}
}

// EmailNotFound reports a missing message.
func EmailNotFound(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeNotFound,
		Message: "email not found",
		Data:    &ErrorData{Type: "EmailNotFoundError", Details: details},
	}
}

// FolderNotFound reports a missing folder.
func FolderNotFound(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeNotFound,
		Message: "folder not found",
		Data:    &ErrorData{Type: "FolderNotFoundError", Details: details},
	}
}

// PermissionDenied reports that the store or the folder policy refused
// access.
func PermissionDenied(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodePermissionDenied,
		Message: "permission denied",
		Data:    &ErrorData{Type: "PermissionError", Details: details},
	}
}

// SearchFailed reports a store-side search error.
func SearchFailed(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeSearchFailed,
		Message: "search failed",
		Data:    &ErrorData{Type: "SearchError", Details: details},
	}
}

// Timeout reports a per-call deadline hit.
func Timeout(details string) *ErrorObject {
	return &ErrorObject{
		Code:    CodeTimeout,
		Message: "request timed out",
		Data:    &ErrorData{Type: "TimeoutError", Details: details},
	}
}

// RateLimited reports a limiter denial with a retry hint in seconds.
func RateLimited(retryAfter time.Duration) *ErrorObject {
	return &ErrorObject{
		Code:    CodeRateLimited,
		Message: "rate limit exceeded",
		Data: &ErrorData{
			Type:       "RateLimitError",
			Details:    "request rate limit exceeded",
			RetryAfter: retryAfter.Seconds(),
		},
	}
}

// FromStoreError translates a mail store failure into its wire error.
// notFoundIsFolder selects which not-found type the operation produces.
func FromStoreError(err error, notFoundIsFolder bool) *ErrorObject {
	var eo *ErrorObject
	if errors.As(err, &eo) {
		return eo
	}

	details := "mail store operation failed"
	var se *mailstore.Error
	if errors.As(err, &se) {
		details = se.Error()
	}

	switch mailstore.KindOf(err) {
	case mailstore.KindUnavailable, mailstore.KindTransient:
		return Unavailable(details)
	case mailstore.KindNotFound:
		if notFoundIsFolder {
			return FolderNotFound(details)
		}
		return EmailNotFound(details)
	case mailstore.KindPermissionDenied:
		return PermissionDenied(details)
	case mailstore.KindInvalidArgument:
		return InvalidParams(details)
	case mailstore.KindTimeout:
		return Timeout(details)
	default:
		return Internal(details)
	}
}
