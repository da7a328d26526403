package domain

import (
	"net/http"
	"time"
)

// HeaderPair is one response header, kept in the order it was written.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is the HTTP response snapshot stored against an
// idempotency key and replayed verbatim for duplicate submissions.
type SavedResponse struct {
	StatusCode int          `json:"status_code"`
	Headers    []HeaderPair `json:"headers"`
	Body       []byte       `json:"body"`
}

// Header returns the first value stored for name, or "".
func (r *SavedResponse) Header(name string) string {
	for _, h := range r.Headers {
		if http.CanonicalHeaderKey(h.Name) == http.CanonicalHeaderKey(name) {
			return string(h.Value)
		}
	}
	return ""
}

// IdempotencyRecord is one ledger row. A nil Response is the "processing"
// sentinel: the owning transaction has not saved a response yet.
type IdempotencyRecord struct {
	UserID    string         `json:"user_id" db:"user_id"`
	Key       string         `json:"idempotency_key" db:"idempotency_key"`
	Response  *SavedResponse `json:"response,omitempty"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Completed reports whether a response has been saved.
func (r *IdempotencyRecord) Completed() bool { return r.Response != nil }
