// Package ledgererr holds the error taxonomy shared by the ledger engine and
// its callers. Every rejection carries a stable reason code so the API layer
// can return actionable feedback instead of a generic failure.
package ledgererr

import "errors"

type Code string

const (
	CodeInsufficientFunds      Code = "INSUFFICIENT_FUNDS"
	CodeAccountNotActive       Code = "ACCOUNT_NOT_ACTIVE"
	CodeLimitExceeded          Code = "LIMIT_EXCEEDED"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeDuplicateReference     Code = "DUPLICATE_REFERENCE"
	CodeStorageUnavailable     Code = "STORAGE_UNAVAILABLE"
	CodeOtpNotVerified         Code = "OTP_NOT_VERIFIED"
	CodeInvalidTransaction     Code = "INVALID_TRANSACTION"
	CodeInvariantViolation     Code = "INVARIANT_VIOLATION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeForbidden              Code = "FORBIDDEN"
	CodeConflict               Code = "CONFLICT"
	CodeInternal               Code = "INTERNAL"
)

// Error is a coded sentinel. Wrap it with fmt.Errorf("%w: ...") to add detail.
type Error struct {
	code    Code
	message string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Code() Code {
	return e.code
}

func newError(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

var (
	ErrInsufficientFunds      = newError(CodeInsufficientFunds, "insufficient funds")
	ErrAccountNotActive       = newError(CodeAccountNotActive, "account not active")
	ErrLimitExceeded          = newError(CodeLimitExceeded, "transaction limit exceeded")
	ErrInvalidStateTransition = newError(CodeInvalidStateTransition, "invalid state transition")
	ErrDuplicateReference     = newError(CodeDuplicateReference, "duplicate transaction reference")
	ErrStorageUnavailable     = newError(CodeStorageUnavailable, "storage unavailable")
	ErrOtpNotVerified         = newError(CodeOtpNotVerified, "otp not verified")
	ErrInvalidTransaction     = newError(CodeInvalidTransaction, "invalid transaction")
	ErrInvariantViolation     = newError(CodeInvariantViolation, "ledger invariant violated")
	ErrNotFound               = newError(CodeNotFound, "not found")
	ErrForbidden              = newError(CodeForbidden, "forbidden")
	ErrConflict               = newError(CodeConflict, "already exists")
)

// CodeOf returns the reason code carried by err, or CodeInternal when err is
// not part of the taxonomy.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// IsValidation reports whether err is a caller-correctable rejection that
// left state untouched.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInsufficientFunds, CodeAccountNotActive, CodeLimitExceeded,
		CodeOtpNotVerified, CodeInvalidTransaction:
		return true
	}
	return false
}
