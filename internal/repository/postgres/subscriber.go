package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/newsletter-delivery/internal/domain"
)

// SubscriberRepo reads the subscriptions table owned by the confirmation
// workflow. It implements newsletter.SubscriberSource.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber source.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

// ListConfirmed returns every confirmed subscription. Addresses are parsed
// one by one; a bad address becomes an entry with Err set.
func (r *SubscriberRepo) ListConfirmed(ctx context.Context) ([]domain.ConfirmedSubscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email FROM subscriptions WHERE status = $1
	`, string(domain.SubscriberConfirmed))
	if err != nil {
		return nil, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.ConfirmedSubscriber
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		email, perr := domain.ParseSubscriberEmail(raw)
		out = append(out, domain.ConfirmedSubscriber{Email: email, Raw: raw, Err: perr})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	return out, nil
}
