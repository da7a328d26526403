package newsletter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
)

const (
	// PublishRedirectPath is where a successful publish sends the browser.
	PublishRedirectPath = "/admin/newsletters"

	// PublishAcceptedMessage is the flash acknowledgment for a publish.
	PublishAcceptedMessage = "The newsletter issue has been accepted - emails will go out shortly."
)

// PublishInput holds the submitted publish form.
type PublishInput struct {
	Title          string `form:"title" validate:"required"`
	HTMLContent    string `form:"html_content" validate:"required"`
	TextContent    string `form:"text_content" validate:"required"`
	IdempotencyKey string `form:"idempotency_key" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		return name
	})
	return v
}

// Validate checks every field and returns the parsed idempotency key.
// Failures are *ValidationError.
func (in PublishInput) Validate() (idempotency.Key, error) {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", &ValidationError{Field: verrs[0].Field(), Reason: "is required"}
		}
		return "", &ValidationError{Field: "form", Reason: err.Error()}
	}
	key, err := idempotency.ParseKey(in.IdempotencyKey)
	if err != nil {
		return "", &ValidationError{Field: "idempotency_key", Reason: err.Error()}
	}
	return key, nil
}

// Service publishes newsletter issues. All public methods are safe for
// concurrent use if the underlying store is concurrency-safe.
type Service struct {
	store       Store
	subscribers SubscriberSource
	drainer     Drainer
	log         *logger.Logger
	now         func() time.Time
}

// NewService creates a publish service backed by the given store and
// subscriber source.
func NewService(store Store, subscribers SubscriberSource) *Service {
	return &Service{
		store:       store,
		subscribers: subscribers,
		log:         logger.Named("newsletter"),
		now:         time.Now,
	}
}

// WithInlineDelivery makes Publish drain the delivery queue before returning.
func (s *Service) WithInlineDelivery(d Drainer) *Service {
	s.drainer = d
	return s
}

// Publish stores an issue and enqueues its delivery, once per
// (userID, idempotency key). Repeated calls with the same key return the
// first call's response without doing any work; a call that arrives while
// the first is still running waits for it.
//
// With inline delivery, a delivery failure is returned after the response
// has been saved, so a retry with the same key resumes delivery for the
// subscribers that were not served.
func (s *Service) Publish(ctx context.Context, userID string, in PublishInput) (*domain.SavedResponse, error) {
	if userID == "" {
		return nil, ErrAuthentication
	}
	key, err := in.Validate()
	if err != nil {
		return nil, err
	}

	resp, err := s.publish(ctx, userID, key, in)
	if err != nil {
		return nil, err
	}

	if s.drainer != nil {
		if err := s.drainer.Drain(ctx); err != nil {
			return nil, fmt.Errorf("deliver newsletter issue: %w", err)
		}
	}
	return resp, nil
}

func (s *Service) publish(ctx context.Context, userID string, key idempotency.Key, in PublishInput) (*domain.SavedResponse, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin publish transaction: %w", err)
	}
	finished := false
	defer func() {
		if finished {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("Rollback of publish transaction failed", "user_id", userID, "error", rbErr)
		}
	}()

	saved, err := idempotency.TryProcessing(ctx, tx, userID, key)
	if err != nil {
		return nil, err
	}
	if saved != nil {
		s.log.Info("Replaying saved publish response", "user_id", userID, "idempotency_key", string(key))
		return saved, nil
	}

	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       in.Title,
		TextContent: in.TextContent,
		HTMLContent: in.HTMLContent,
		PublishedAt: s.now().UTC(),
	}
	if err := tx.InsertIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("insert newsletter issue: %w", err)
	}

	recipients, skipped, err := s.confirmedRecipients(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	n, err := tx.EnqueueDeliveryTasks(ctx, issue.ID, recipients)
	if err != nil {
		return nil, fmt.Errorf("enqueue delivery tasks: %w", err)
	}

	resp := publishedResponse()
	if err := idempotency.Complete(ctx, tx, userID, key, resp); err != nil {
		return nil, err
	}

	finished = true
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish transaction: %w", err)
	}

	s.log.Info("Newsletter issue published",
		"issue_id", issue.ID,
		"user_id", userID,
		"enqueued", n,
		"skipped", skipped,
	)
	return resp, nil
}

// confirmedRecipients returns the valid confirmed addresses. Invalid ones
// are logged and left out; one bad entry never blocks the batch.
func (s *Service) confirmedRecipients(ctx context.Context, issueID string) ([]domain.SubscriberEmail, int, error) {
	subs, err := s.subscribers.ListConfirmed(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	out := make([]domain.SubscriberEmail, 0, len(subs))
	skipped := 0
	for _, sub := range subs {
		if !sub.Valid() {
			skipped++
			s.log.Warn("Skipping a confirmed subscriber. Their stored contact details are invalid",
				"issue_id", issueID,
				"subscriber_email", sub.Raw,
				"error", sub.Err,
			)
			continue
		}
		out = append(out, sub.Email)
	}
	return out, skipped, nil
}

func publishedResponse() *domain.SavedResponse {
	return &domain.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: []byte(PublishRedirectPath)},
			{Name: "Content-Type", Value: []byte("text/plain; charset=utf-8")},
		},
		Body: []byte(PublishAcceptedMessage),
	}
}
