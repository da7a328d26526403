package newsletter

import (
	"context"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
)

// Store opens publish transactions. Implementations must be safe for
// concurrent use.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one publish transaction. Nothing written through it is visible to
// the delivery worker until Commit succeeds.
type Tx interface {
	idempotency.Tx

	// InsertIssue stores a new issue.
	InsertIssue(ctx context.Context, issue *domain.NewsletterIssue) error

	// EnqueueDeliveryTasks adds one task per address for issueID. Addresses
	// already queued for the issue are ignored. Returns the number of tasks
	// added.
	EnqueueDeliveryTasks(ctx context.Context, issueID string, emails []domain.SubscriberEmail) (int, error)

	Commit() error
	Rollback() error
}

// SubscriberSource yields the confirmed subscribers at the time of the call.
type SubscriberSource interface {
	ListConfirmed(ctx context.Context) ([]domain.ConfirmedSubscriber, error)
}

// Drainer delivers queued tasks synchronously.
type Drainer interface {
	Drain(ctx context.Context) error
}
