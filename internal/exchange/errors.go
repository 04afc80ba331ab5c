// Package exchange implements the authenticated REST client for the
// exchange: request signing, nonce sequencing, retry with backoff, and the
// order/balance/market surfaces built on top of it.
package exchange

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an exchange error for the caller: transient errors are
// worth retrying next cycle, fatal ones must surface immediately.
type Kind int

const (
	KindTransient Kind = iota
	KindFatal
)

// String returns the kind's label.
func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

// APIError is a classified failure of one exchange call.
type APIError struct {
	Kind       Kind
	Op         string
	HTTPStatus int
	Messages   []string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s error", e.Op, e.Kind)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (http %d)", e.HTTPStatus)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable exchange failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransient
	}
	return false
}

// IsFatal reports whether err is a non-retryable exchange failure.
func IsFatal(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindFatal
	}
	return false
}

// IsPermissionDenied reports whether the exchange rejected the call for
// missing API key permissions.
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, msg := range apiErr.Messages {
		if strings.Contains(msg, "Permission denied") {
			return true
		}
	}
	return false
}

// transientAPIMessages are exchange-reported errors that clear up on their
// own: rate limits, lockouts and service availability.
var transientAPIMessages = []string{
	"Rate limit exceeded",
	"Temporary lockout",
	"Unavailable",
	"Busy",
	"Internal error",
	"Invalid nonce",
}

// classifyMessages maps the envelope's error list to a kind. Anything not
// recognizably transient is fatal: invalid keys, bad signatures and
// permission problems never fix themselves.
func classifyMessages(messages []string) Kind {
	for _, msg := range messages {
		for _, marker := range transientAPIMessages {
			if strings.Contains(msg, marker) {
				return KindTransient
			}
		}
	}
	return KindFatal
}
