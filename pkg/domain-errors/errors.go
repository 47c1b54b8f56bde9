// Package domainerrors defines the coded errors that cross service
// boundaries. Services return these; the transport layer translates codes
// into HTTP responses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure. Codes are stable API; messages are not.
type Code string

const (
	// CodeUpstreamAuth means the provider or the data service rejected our
	// credentials (assertion rejected, or 401 that survived a forced refresh).
	CodeUpstreamAuth Code = "upstream_auth"
	// CodeUpstreamUnavailable covers transport failures and timeouts on
	// outbound calls. Distinct from auth failures so callers know a retry
	// with fresh credentials is pointless.
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	// CodeCallbackValidation covers a failed authorization-code callback:
	// nonce mismatch, failed exchange, unverifiable ID token.
	CodeCallbackValidation Code = "callback_validation"
	// CodeMissingNonce means a callback arrived with no pending nonce, either
	// because no login was started or because the nonce was already consumed.
	CodeMissingNonce Code = "missing_nonce"
	// CodeConsentLookup means the system of record returned no usable consent
	// data for the identity (no contact, no party, application-level error).
	CodeConsentLookup Code = "consent_lookup"
	// CodeAlreadyAuthenticated guards login entry for sessions that already
	// hold an identity.
	CodeAlreadyAuthenticated Code = "already_authenticated"

	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal"
)

// Error carries a code, a safe-to-expose message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a message safe to surface to callers.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. The cause is
// preserved for errors.Is/As chains but is not part of the exposed message.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the safe message from err. Uncoded errors yield a
// generic message so internal detail never leaks to a browser.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
