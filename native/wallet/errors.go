package wallet

import "errors"

var (
	// ErrValidation marks malformed identifiers or credentials supplied by the caller.
	ErrValidation = errors.New("wallet: validation failed")
	// ErrUnauthorized is returned when the presented credential does not match
	// the role required by the entry point.
	ErrUnauthorized = errors.New("wallet: unauthorized")
	// ErrDuplicate is returned when a digest or ledger identifier is already registered.
	ErrDuplicate = errors.New("wallet: account already exists")
	// ErrNotFound is returned when a required account lookup misses.
	ErrNotFound = errors.New("wallet: account does not exist")
	// ErrUninitialized is returned by every entry point before Initialize ran.
	ErrUninitialized = errors.New("wallet: contract not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize. It matches
	// ErrDuplicate under errors.Is.
	ErrAlreadyInitialized error = &subError{msg: "wallet: contract already initialized", parent: ErrDuplicate}
	// ErrPaused is returned by mutating entry points while the contract is paused.
	ErrPaused = errors.New("wallet: contract paused")
)

// subError is a sentinel that refines a broader sentinel.
type subError struct {
	msg    string
	parent error
}

func (e *subError) Error() string { return e.msg }
func (e *subError) Unwrap() error { return e.parent }

// Error kinds reported by KindOf.
const (
	KindNone               = ""
	KindValidation         = "validation"
	KindUnauthorized       = "unauthorized"
	KindDuplicate          = "duplicate"
	KindNotFound           = "not_found"
	KindUninitialized      = "uninitialized"
	KindAlreadyInitialized = "already_initialized"
	KindPaused             = "paused"
	KindInternal           = "internal"
)

// KindOf classifies err into a stable label for logs, metrics and transport
// status codes. Nil maps to KindNone; unknown errors map to KindInternal.
func KindOf(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAlreadyInitialized):
		return KindAlreadyInitialized
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUninitialized):
		return KindUninitialized
	case errors.Is(err, ErrPaused):
		return KindPaused
	default:
		return KindInternal
	}
}
