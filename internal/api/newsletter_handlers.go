package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/newsletter-delivery/internal/auth"
	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/httputil"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
	"github.com/ignite/newsletter-delivery/internal/service/newsletter"
)

const (
	// maxFormBytes caps the publish form body.
	maxFormBytes = 2 << 20

	// statusClientClosedRequest is logged and written when the client hangs
	// up before the publish finishes.
	statusClientClosedRequest = 499
)

// Publisher publishes a newsletter issue on behalf of a user.
type Publisher interface {
	Publish(ctx context.Context, userID string, in newsletter.PublishInput) (*domain.SavedResponse, error)
}

var _ Publisher = (*newsletter.Service)(nil)

// NewsletterHandler serves the admin publish endpoint.
type NewsletterHandler struct {
	publisher Publisher
	log       *logger.Logger
}

func NewNewsletterHandler(p Publisher) *NewsletterHandler {
	return &NewsletterHandler{publisher: p, log: logger.Named("api")}
}

// HandlePublish accepts the publish form and answers with the saved
// response, which is byte-identical for every retry with the same key.
//
//	POST /admin/newsletters
func (h *NewsletterHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(w, "invalid form body")
		return
	}

	in := newsletter.PublishInput{
		Title:          r.PostForm.Get("title"),
		HTMLContent:    r.PostForm.Get("html_content"),
		TextContent:    r.PostForm.Get("text_content"),
		IdempotencyKey: r.PostForm.Get("idempotency_key"),
	}

	resp, err := h.publisher.Publish(r.Context(), auth.UserIDFrom(r.Context()), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSavedResponse(w, resp)
}

func (h *NewsletterHandler) writeError(w http.ResponseWriter, err error) {
	var verr *newsletter.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "validation_failed", verr.Error(), map[string]string{"field": verr.Field})
	case errors.Is(err, newsletter.ErrAuthentication):
		httputil.Unauthorized(w)
	case errors.Is(err, idempotency.ErrRequestInFlight):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, context.Canceled):
		h.log.Debug("Publish abandoned by client", "error", err)
		w.WriteHeader(statusClientClosedRequest)
	default:
		httputil.InternalError(w, err)
	}
}

func (h *NewsletterHandler) writeSavedResponse(w http.ResponseWriter, resp *domain.SavedResponse) {
	for _, hdr := range resp.Headers {
		w.Header().Add(hdr.Name, string(hdr.Value))
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		h.log.Warn("Failed to write publish response", "status", resp.StatusCode, "error", err)
	}
}
