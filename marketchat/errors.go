package marketchat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Protocol errors (from server error frames)
	ErrorUnknown ErrorCode = iota
	ErrorUnauthorized
	ErrorBadRequest
	ErrorRoomNotFound
	ErrorRateLimited
	ErrorInternalServer

	// Client-side errors
	ErrorConnection
	ErrorHandshake
	ErrorTimeout
	ErrorDisconnected
	ErrorSerialization
	ErrorInvalidConfig

	// Precondition errors (caller misuse, raised synchronously)
	ErrorNotConnected
	ErrorNoRoomSelected
	ErrorRoomNotRoutable

	// Session-expired from the HTTP collaborator (401/403, never retried)
	ErrorSessionExpired
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorRoomNotFound:
		return "room_not_found"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorHandshake:
		return "handshake_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorNoRoomSelected:
		return "no_room_selected"
	case ErrorRoomNotRoutable:
		return "room_not_routable"
	case ErrorSessionExpired:
		return "session_expired"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "bad_request":
		return ErrorBadRequest
	case "room_not_found":
		return ErrorRoomNotFound
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// ChatError is a structured error with code and context.
type ChatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ChatError with the given code and message.
func NewError(code ErrorCode, message string) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a ChatError.
func WrapError(code ErrorCode, message string, err error) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a protocol error frame to ChatError.
func FromProtocolError(e *ProtocolError) *ChatError {
	if e == nil {
		return nil
	}
	return &ChatError{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// IsAuthError checks if an error is an authentication failure.
func IsAuthError(err error) bool {
	return hasCode(err, ErrorUnauthorized) || hasCode(err, ErrorSessionExpired)
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	return hasCode(err, ErrorConnection) || hasCode(err, ErrorHandshake) ||
		hasCode(err, ErrorDisconnected) || hasCode(err, ErrorTimeout)
}

// IsPreconditionError checks if an error signals caller misuse rather than
// an environmental failure.
func IsPreconditionError(err error) bool {
	return hasCode(err, ErrorNotConnected) || hasCode(err, ErrorNoRoomSelected) ||
		hasCode(err, ErrorRoomNotRoutable)
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var ce *ChatError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}
