// Package autherr defines the error taxonomy shared by the authentication core.
//
// Recoverable failures stay inside the component that hit them. Failures that end an
// authentication attempt cross the package boundary as *Error values (or wrapped in a
// Result) so callers can branch on Kind instead of matching strings.
package autherr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an authentication failure.
type Kind string

const (
	// KindProtocol is a terminal device-flow outcome (denied or expired).
	KindProtocol Kind = "protocol"
	// KindNetwork is a transport failure or timeout.
	KindNetwork Kind = "network"
	// KindStorage means no credential backend could persist the secret.
	KindStorage Kind = "storage"
	// KindEncryption means stored ciphertext could not be decrypted.
	KindEncryption Kind = "encryption"
	// KindScope means the credential is valid but lacks a required scope.
	KindScope Kind = "scope"
	// KindCredential means the long-lived credential is missing, invalid or expired.
	KindCredential Kind = "credential"
	// KindEntitlement means the account is not entitled to the service.
	KindEntitlement Kind = "entitlement"
	// KindValidation is invalid input or configuration.
	KindValidation Kind = "validation"
	// KindCanceled means the caller aborted the operation.
	KindCanceled Kind = "canceled"
)

// Error is a structured authentication failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Hint tells the user how to recover.
	Hint string
	// Scopes lists missing scopes for KindScope errors.
	Scopes []string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if len(e.Scopes) > 0 {
		fmt.Fprintf(&b, " (missing scopes: %s)", strings.Join(e.Scopes, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// New returns an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithHint sets the recovery hint and returns e.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// Sentinels usable with errors.Is to test for a kind.
var (
	ErrProtocol    = &Error{Kind: KindProtocol}
	ErrNetwork     = &Error{Kind: KindNetwork}
	ErrStorage     = &Error{Kind: KindStorage}
	ErrEncryption  = &Error{Kind: KindEncryption}
	ErrScope       = &Error{Kind: KindScope}
	ErrCredential  = &Error{Kind: KindCredential}
	ErrEntitlement = &Error{Kind: KindEntitlement}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrCanceled    = &Error{Kind: KindCanceled}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HintOf returns the recovery hint of the first *Error in err's chain.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// Result is the value returned across the subsystem boundary for an authentication attempt.
type Result struct {
	Success bool
	Err     *Error
}

// OK returns a successful Result.
func OK() Result {
	return Result{Success: true}
}

// Fail returns a failed Result. Errors that are not *Error are classified as network failures.
func Fail(err error) Result {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(KindNetwork, "", "request failed", err)
	}
	return Result{Err: e}
}
