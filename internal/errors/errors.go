// Package errors provides domain-specific error types for ipcd.
//
// These types carry structured context (operation, address, peer
// identity, retryability) that helps the dispatch loop and the CLI decide
// how to handle failures and produces better diagnostics than plain string
// wrapping.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrPeerDenied      = errors.New("peer not authorised")
	ErrNoCredentials   = errors.New("peer credentials unavailable")
	ErrBudgetExhausted = errors.New("failure budget exhausted")
	ErrSpawnFailed     = errors.New("worker spawn failed")
	ErrListenerClosed  = errors.New("listener is closed")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a socket operation.
type NetworkError struct {
	Op        string // operation: "listen", "accept", "chmod", "credentials"
	Addr      string // socket path or host:port
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PeerError reports why a connecting peer failed authorisation.  It always
// unwraps to ErrPeerDenied so the dispatch loop can treat every rejection
// alike.
type PeerError struct {
	Field string      // identity field that did not match: "uid", "process_name", ...
	Want  interface{} // configured value
	Got   interface{} // observed value (nil if unavailable)
}

func (e *PeerError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("peer %s unavailable (want %v)", e.Field, e.Want)
	}
	return fmt.Sprintf("peer %s mismatch: got %v, want %v", e.Field, e.Got, e.Want)
}

func (e *PeerError) Unwrap() error { return ErrPeerDenied }

// ConfigError represents an invalid configuration token.
type ConfigError struct {
	Field   string      // option key, e.g. "port"
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: %s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// Mismatch creates a PeerError for a constrained identity field.
func Mismatch(field string, want, got interface{}) *PeerError {
	return &PeerError{Field: field, Want: want, Got: got}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsDenied reports whether err is an authorisation rejection rather than a
// socket failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrPeerDenied) || errors.Is(err, ErrNoCredentials)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use ipcd/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
