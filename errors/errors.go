// Package errors provides the structured error type used across headerd.
//
// It mirrors the shape of a typed application error with an error code, a
// broad disposition kind, a human message, and an optional wrapped cause,
// so callers can branch with errors.Is/errors.As instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the broad disposition bucket from which a caller decides how to
// react to an error, independent of the precise Code.
type Kind int

const (
	KindUnspecified Kind = iota
	KindProtocolViolation
	KindTransient
	KindCapacity
	KindPolicy
	KindPersistence
	KindProgramming
)

func (k Kind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol-violation"
	case KindTransient:
		return "transient"
	case KindCapacity:
		return "capacity"
	case KindPolicy:
		return "policy"
	case KindPersistence:
		return "persistence"
	case KindProgramming:
		return "programming"
	default:
		return "unspecified"
	}
}

// Code identifies a specific error condition.
type Code int

const (
	ErrUnknown Code = iota
	ErrBadMagic
	ErrOversizedPayload
	ErrChecksumMismatch
	ErrTruncatedPayload
	ErrUnknownField
	ErrUserAgentTooLong
	ErrOutOfOrderMessage
	ErrNonContinuousHeaders
	ErrInvalidPoW
	ErrLowWorkHeaders
	ErrTooManyUnconnectingHeaders
	ErrSelfConnection
	ErrDuplicateConnection
	ErrAddressBanned
	ErrAddressDiscouraged
	ErrNoSlotsAvailable
	ErrAlreadyConnected
	ErrNotRunning
	ErrTransportFailed
	ErrPeerCreationFailed
	ErrPeerManagerFailed
	ErrTooManyOrphans
	ErrOrphanPoolFull
	ErrFloodLimitExceeded
	ErrPrevBlockNotFound
	ErrNotFound
)

// Error is the application error type used throughout headerd.
type Error struct {
	Code       Code
	Kind       Kind
	Message    string
	WrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.WrappedErr == nil {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
	}

	return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Message, e.WrappedErr)
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	var ue *Error
	if errors.As(target, &ue) {
		return e.Code == ue.Code
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}

	if e.WrappedErr != nil {
		return errors.As(e.WrappedErr, target)
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.WrappedErr
}

// New builds an *Error. If the last element of params is an error, it is
// treated as the wrapped cause and excluded from message formatting.
func New(code Code, kind Kind, message string, params ...interface{}) *Error {
	var wrapped error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wrapped = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{Code: code, Kind: kind, Message: message, WrappedErr: wrapped}
}

// Is reports whether err matches target per the standard library semantics.
func Is(err, target error) bool { return errors.Is(err, target) }

// As reports whether err can be assigned to target per standard library semantics.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Join joins non-nil errors with a standard library multi-error.
func Join(errs ...error) error { return errors.Join(errs...) }
