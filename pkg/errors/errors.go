// Package errors classifies failures raised by remote stores and sources.
//
// Callers use IsTransient to decide whether a failed remote call may be
// retried, and the sentinel errors to decide how far a failure propagates:
// a unit, or the whole campaign.
package errors

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeStore       ErrorType = "store"
	ErrorTypeUnknown     ErrorType = "unknown"
)

var (
	// ErrStoreUnavailable marks a progress or cache store that could not be
	// reached. It is fatal to the campaign, not only to the current unit.
	ErrStoreUnavailable = stderrors.New("store unavailable")
	// ErrRetriesExhausted wraps the last error of a call that kept failing
	// transiently.
	ErrRetriesExhausted = stderrors.New("retries exhausted")
	// ErrInvalidRange is returned for index ranges with from > to or from < 1.
	ErrInvalidRange = stderrors.New("invalid index range")
)

// Error represents a remote error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a typed error.
func New(t ErrorType, code int, msg string, cause error) *Error {
	return &Error{Type: t, Code: code, Message: msg, Err: cause}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// TypeForStatus maps an HTTP status code to an error type.
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode == 408 || statusCode == 504:
		return ErrorTypeTimeout
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// IsTransient reports whether err is a connection-level failure that is safe
// to retry for idempotent operations: resets, refusals, timeouts, typed
// network errors, dropped database connections and busy/locked storage. It
// looks through StoreUnavailable wraps.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var typed *Error
	if stderrors.As(err, &typed) {
		return IsRetryable(typed.Type)
	}

	var tr interface{ Transient() bool }
	if stderrors.As(err, &tr) {
		return tr.Transient()
	}

	if stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNABORTED) ||
		stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

var transientFragments = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"database is locked",
	"sqlite_busy",
}

// StoreUnavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsStoreUnavailable reports whether err came from an unreachable store.
func IsStoreUnavailable(err error) bool {
	return stderrors.Is(err, ErrStoreUnavailable)
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

type transientError struct{ err error }

func (t transientError) Error() string   { return t.err.Error() }
func (t transientError) Unwrap() error   { return t.err }
func (t transientError) Transient() bool { return true }
