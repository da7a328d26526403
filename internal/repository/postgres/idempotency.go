package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// IdempotencyRepo maintains the idempotency table outside of publish
// transactions.
type IdempotencyRepo struct{ db *sql.DB }

// NewIdempotencyRepo creates a Postgres-backed idempotency maintenance repo.
func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

// DeleteCompletedBefore removes up to limit completed records created
// before cutoff. Sentinel rows are never touched.
func (r *IdempotencyRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency
		WHERE (user_id, idempotency_key) IN (
			SELECT user_id, idempotency_key FROM idempotency
			WHERE response_status_code IS NOT NULL
			  AND created_at < $1
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return n, nil
}
