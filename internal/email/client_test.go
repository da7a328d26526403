package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/httpretry"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sender, err := domain.ParseSubscriberEmail("news@example.com")
	require.NoError(t, err)
	return NewClient(srv.URL+"/", sender, "secret-token", httpretry.NewRetryClient(srv.Client(), -1))
}

func TestClient_SendPostsExpectedPayload(t *testing.T) {
	var got sendEmailRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "secret-token", r.Header.Get(tokenHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := client.Send(context.Background(), "reader@example.com", "Issue #1", "<p>hi</p>", "hi")
	require.NoError(t, err)
	assert.Equal(t, sendEmailRequest{
		From:     "news@example.com",
		To:       "reader@example.com",
		Subject:  "Issue #1",
		HtmlBody: "<p>hi</p>",
		TextBody: "hi",
	}, got)
}

func TestClient_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusRequestEntityTooLarge, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"Message":"nope"}`))
			})
			err := client.Send(context.Background(), "reader@example.com", "s", "h", "t")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.permanent, sending.IsPermanent(err))
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sender, _ := domain.ParseSubscriberEmail("news@example.com")
	client := NewClient(url, sender, "token", httpretry.NewRetryClient(nil, -1))

	err := client.Send(context.Background(), "reader@example.com", "s", "h", "t")
	require.Error(t, err)
	assert.False(t, sending.IsPermanent(err))
}
