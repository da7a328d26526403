// Package sending defines the email delivery capability consumed by the
// delivery worker.
//
// Each transport (HTTP email API, SES) implements EmailSender. Errors a
// transport returns are transient unless wrapped with Permanent: the worker
// keeps transient failures queued and retires permanent ones.
package sending

import (
	"context"
	"errors"
)

// EmailSender sends a single email. Implementations must be safe for
// concurrent use.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// ErrPermanent marks a failure that retrying will never fix (rejected
// recipient, malformed request).
var ErrPermanent = errors.New("permanent delivery failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// Permanent wraps err so that IsPermanent reports true. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was classified as permanent.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// SenderFunc adapts a function to EmailSender.
type SenderFunc func(ctx context.Context, to, subject, htmlBody, textBody string) error

func (f SenderFunc) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	return f(ctx, to, subject, htmlBody, textBody)
}
