package errors

import "fmt"

// ErrorCode classifies call errors for callers that need to render an
// actionable prompt rather than a raw message.
type ErrorCode string

const (
	// Device acquisition failures, classified from the underlying reason.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeDeviceNotFound   ErrorCode = "DEVICE_NOT_FOUND"
	ErrCodeDeviceBusy       ErrorCode = "DEVICE_BUSY"
	ErrCodeConstraints      ErrorCode = "CONSTRAINTS_UNSATISFIABLE"

	// Transport and negotiation failures.
	ErrCodeSignaling    ErrorCode = "SIGNALING_ERROR"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeNegotiation  ErrorCode = "NEGOTIATION_ERROR"

	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// CallError is an error with a classification code and optional context.
type CallError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *CallError) WithContext(key string, value interface{}) *CallError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a CallError with the given code.
func New(code ErrorCode, message string) *CallError {
	return &CallError{Code: code, Message: message}
}

// Wrap wraps err with a classification code.
func Wrap(err error, code ErrorCode, message string) *CallError {
	return &CallError{Code: code, Message: message, Cause: err}
}

func NewPermissionDenied(message string) *CallError {
	return New(ErrCodePermissionDenied, message)
}

func NewDeviceNotFound(message string) *CallError {
	return New(ErrCodeDeviceNotFound, message)
}

func NewDeviceBusy(message string) *CallError {
	return New(ErrCodeDeviceBusy, message)
}

func NewConstraintsUnsatisfiable(message string) *CallError {
	return New(ErrCodeConstraints, message)
}

func NewSignalingError(message string) *CallError {
	return New(ErrCodeSignaling, message)
}

func NewNegotiationError(peer, message string) *CallError {
	return New(ErrCodeNegotiation, message).WithContext("peer", peer)
}

func NewInvalidInputError(message string) *CallError {
	return New(ErrCodeInvalidInput, message)
}

func NewInternalError(message string) *CallError {
	return New(ErrCodeInternal, message)
}

// IsPermission reports whether the error is any of the device acquisition
// failure classes.
func IsPermission(err error) bool {
	ce := Get(err)
	if ce == nil {
		return false
	}
	switch ce.Code {
	case ErrCodePermissionDenied, ErrCodeDeviceNotFound, ErrCodeDeviceBusy, ErrCodeConstraints:
		return true
	}
	return false
}

// Get extracts a CallError from the error chain, or nil.
func Get(err error) *CallError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CallError); ok {
		return ce
	}

	type unwrapper interface {
		Unwrap() error
	}
	if u, ok := err.(unwrapper); ok {
		return Get(u.Unwrap())
	}
	return nil
}
