package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, machine-readable identifier of a domain failure.
type ErrorCode string

const (
	CodeValidation              ErrorCode = "VALIDATION_ERROR"
	CodeInvalidCredentials      ErrorCode = "INVALID_CREDENTIALS"
	CodeAccountLocked           ErrorCode = "ACCOUNT_LOCKED"
	CodeAccountInactive         ErrorCode = "ACCOUNT_INACTIVE"
	CodeTokenMalformed          ErrorCode = "TOKEN_MALFORMED"
	CodeTokenExpired            ErrorCode = "TOKEN_EXPIRED"
	CodeTokenRevoked            ErrorCode = "TOKEN_REVOKED"
	CodeTenantAccessDenied      ErrorCode = "TENANT_ACCESS_DENIED"
	CodeInsufficientPermissions ErrorCode = "INSUFFICIENT_PERMISSIONS"
	CodeResourceNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	CodeStoreUnavailable        ErrorCode = "STORE_UNAVAILABLE"
	CodeCacheUnavailable        ErrorCode = "CACHE_UNAVAILABLE"
	CodeSystemError             ErrorCode = "SYSTEM_ERROR"
)

// Error is the typed error returned by every core component.
// Two errors are equal under errors.Is when their codes match.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidCredentials      = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	ErrAccountLocked           = &Error{Code: CodeAccountLocked, Message: "account is temporarily locked"}
	ErrAccountInactive         = &Error{Code: CodeAccountInactive, Message: "account is not active"}
	ErrTokenMalformed          = &Error{Code: CodeTokenMalformed, Message: "token is malformed"}
	ErrTokenExpired            = &Error{Code: CodeTokenExpired, Message: "token has expired"}
	ErrTokenRevoked            = &Error{Code: CodeTokenRevoked, Message: "token has been revoked"}
	ErrTenantAccessDenied      = &Error{Code: CodeTenantAccessDenied, Message: "access to tenant denied"}
	ErrInsufficientPermissions = &Error{Code: CodeInsufficientPermissions, Message: "insufficient permissions"}
	ErrResourceNotFound        = &Error{Code: CodeResourceNotFound, Message: "resource not found"}
	ErrValidation              = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrStoreUnavailable        = &Error{Code: CodeStoreUnavailable, Message: "credential store unavailable"}
	ErrCacheUnavailable        = &Error{Code: CodeCacheUnavailable, Message: "cache unavailable"}
	ErrSystem                  = &Error{Code: CodeSystemError, Message: "internal error"}
)

// NewError builds a domain error with a custom message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Validation reports bad caller input.
func Validation(message string) error {
	return &Error{Code: CodeValidation, Message: message}
}

// Insufficient reports a denied operation together with the specific reason.
func Insufficient(reason string) error {
	return &Error{Code: CodeInsufficientPermissions, Message: reason}
}

// NotFound reports a missing resource of the given kind.
func NotFound(kind string) error {
	return &Error{Code: CodeResourceNotFound, Message: kind + " not found"}
}

// StoreUnavailable wraps a credential store failure.
func StoreUnavailable(err error) error {
	return &Error{Code: CodeStoreUnavailable, Message: "credential store unavailable", Err: err}
}

// CacheUnavailable wraps a cache layer failure.
func CacheUnavailable(err error) error {
	return &Error{Code: CodeCacheUnavailable, Message: "cache unavailable", Err: err}
}

// CodeOf returns the code of the outermost domain error in err's chain,
// or CodeSystemError when there is none.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeSystemError
}

// AsSystemError prepares err for crossing the core boundary. Domain errors
// pass through unchanged except infrastructure failures, which are wrapped
// together with anything unclassified as SYSTEM_ERROR.
func AsSystemError(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		switch de.Code {
		case CodeStoreUnavailable, CodeCacheUnavailable:
		default:
			return err
		}
	}
	return &Error{Code: CodeSystemError, Message: "internal error", Err: err}
}
