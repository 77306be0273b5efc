package tipping

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, machine-readable identifier of a ledger failure.
type ErrorCode string

const (
	CodeMinTip            ErrorCode = "MIN_TIP"
	CodeNoOwner           ErrorCode = "NO_OWNER"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeInvalidPercentage ErrorCode = "INVALID_PERCENTAGE"
	CodeParseError        ErrorCode = "PARSE_ERROR"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInternal          ErrorCode = "INTERNAL"
)

// Error is a coded ledger failure. Two errors match under errors.Is when their
// codes are equal, so callers can test against the package sentinels.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "tipping: <nil>"
	}
	return "tipping: " + e.Message
}

// Is implements errors.Is matching on the code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

var (
	ErrMinTip            = &Error{Code: CodeMinTip, Message: "deposit below minimum tip"}
	ErrNoOwner           = &Error{Code: CodeNoOwner, Message: "track has no registered owner"}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized, Message: "caller is not the operator"}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInvalidPercentage = &Error{Code: CodeInvalidPercentage, Message: "percentage must be between 0 and 100"}
	ErrParse             = &Error{Code: CodeParseError, Message: "malformed numeric identifier"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal consistency failure"}

	errNilState = errors.New("tipping engine: state not configured")
)

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func internalError(format string, args ...interface{}) error {
	return newError(CodeInternal, format, args...)
}

// CodeOf extracts the code from err. Uncoded errors report INTERNAL.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsRejection reports whether err is a validation or referential failure that
// is returned as a structured result rather than aborting the call.
func IsRejection(err error) bool {
	switch CodeOf(err) {
	case CodeMinTip, CodeNoOwner:
		return true
	default:
		return false
	}
}
