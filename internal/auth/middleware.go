package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/newsletter-delivery/internal/pkg/httputil"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "session_id"

type ctxKey struct{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFrom returns the authenticated user id, or "" when there is none.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Middleware authenticates requests from the session cookie.
type Middleware struct {
	store  SessionStore
	cookie string
}

// NewMiddleware creates session middleware reading cookieName.
func NewMiddleware(store SessionStore, cookieName string) *Middleware {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Middleware{store: store, cookie: cookieName}
}

// RequireUser rejects requests without a live session with 401 and puts the
// user id in the request context otherwise.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(m.cookie)
		if err != nil || c.Value == "" {
			httputil.Unauthorized(w)
			return
		}
		userID, err := m.store.UserID(r.Context(), c.Value)
		if errors.Is(err, ErrNoSession) {
			httputil.Unauthorized(w)
			return
		}
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
