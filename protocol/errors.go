// Numbered error taxonomy for operation admission and application.
//
// Admission errors reject a submission before anything is persisted. Domain
// errors occur while applying an admitted operation; the dispatcher records
// them into the operation's result and marks it failed, keeping the record
// for audit. Storage failures are wrapped with ErrorInternal and surfaced;
// they are never retried here.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable numeric identifier for an error condition. Callers
// branch on codes, never on message strings.
type ErrorCode int

const (
	ErrorInternal                     ErrorCode = 10
	ErrorInvalidSignature             ErrorCode = 11
	ErrorHashMismatch                 ErrorCode = 12
	ErrorMalformedOperation           ErrorCode = 13
	ErrorUnknownKind                  ErrorCode = 14
	ErrorTimestampInFuture            ErrorCode = 15
	ErrorTooManyOperations            ErrorCode = 16
	ErrorAppliedBefore                ErrorCode = 17
	ErrorOperationNotFound            ErrorCode = 18
	ErrorInvalidTimestamp             ErrorCode = 19
	ErrorUserNotFound                 ErrorCode = 20
	ErrorGroupNotFound                ErrorCode = 21
	ErrorAppNotFound                  ErrorCode = 22
	ErrorNotAdmin                     ErrorCode = 23
	ErrorNotMember                    ErrorCode = 24
	ErrorAlreadyMember                ErrorCode = 25
	ErrorNotInvited                   ErrorCode = 26
	ErrorInviteExpired                ErrorCode = 27
	ErrorDuplicateGroup               ErrorCode = 28
	ErrorAlreadyFamilyHead            ErrorCode = 29
	ErrorIneligibleGroupMember        ErrorCode = 30
	ErrorIneligibleFamilyGroupMember  ErrorCode = 31
	ErrorIneligibleRecoveryConnection ErrorCode = 32
	ErrorDuplicateSigners             ErrorCode = 33
	ErrorLastSigningKey               ErrorCode = 34
	ErrorReplacedWithNotFound         ErrorCode = 35
	ErrorSponsoredBefore              ErrorCode = 36
	ErrorSponsorshipQuota             ErrorCode = 37
	ErrorNotSponsored                 ErrorCode = 38
	ErrorVerificationNotHeld          ErrorCode = 39
	ErrorSessionNotFound              ErrorCode = 40
	ErrorAlreadyVouched               ErrorCode = 41
	ErrorInvalidSignatureFormat       ErrorCode = 42
	ErrorLastAdmin                    ErrorCode = 43
)

// Error is the structured error type used across the node.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and message to an underlying cause.
func WrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Internal wraps a storage or backend failure.
func Internal(cause error) *Error {
	return &Error{Code: ErrorInternal, Message: "internal error", Cause: cause}
}

// CodeOf returns the error's code, or ErrorInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Domain reports whether the code is a domain error: a rule violation during
// apply that is recorded into the operation's result rather than surfaced as
// a server failure.
func (c ErrorCode) Domain() bool {
	return c >= ErrorUserNotFound
}

// HTTPStatus maps an error code to the response status used by the HTTP
// layer.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorInternal:
		return http.StatusInternalServerError
	case ErrorInvalidSignature, ErrorInvalidSignatureFormat:
		return http.StatusForbidden
	case ErrorTooManyOperations:
		return http.StatusTooManyRequests
	case ErrorOperationNotFound, ErrorUserNotFound, ErrorGroupNotFound,
		ErrorAppNotFound, ErrorSessionNotFound:
		return http.StatusNotFound
	case ErrorAppliedBefore:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
