package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
	"github.com/ignite/newsletter-delivery/internal/service/newsletter"
)

// PublishStore implements newsletter.Store against PostgreSQL.
//
// Transactions run at READ COMMITTED. Under that level an
// INSERT ... ON CONFLICT on the idempotency primary key waits for a
// concurrent uncommitted insert of the same key and then sees its outcome,
// which is what serializes duplicate publish requests.
type PublishStore struct{ db *sql.DB }

// NewPublishStore creates a Postgres-backed publish store.
func NewPublishStore(db *sql.DB) *PublishStore { return &PublishStore{db: db} }

func (s *PublishStore) Begin(ctx context.Context) (newsletter.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &publishTx{tx: tx}, nil
}

type publishTx struct{ tx *sql.Tx }

func (t *publishTx) InsertPending(ctx context.Context, userID string, key idempotency.Key) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency (user_id, idempotency_key, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`, userID, string(key))
	if err != nil {
		return false, fmt.Errorf("insert idempotency sentinel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert idempotency sentinel: %w", err)
	}
	return n == 1, nil
}

func (t *publishTx) SavedResponse(ctx context.Context, userID string, key idempotency.Key) (*domain.SavedResponse, error) {
	var (
		status  sql.NullInt32
		headers []byte
		body    []byte
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT response_status_code, response_headers, response_body
		FROM idempotency
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, string(key)).Scan(&status, &headers, &body)
	if err == sql.ErrNoRows {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get saved response: %w", err)
	}
	if !status.Valid {
		return nil, nil
	}
	resp := &domain.SavedResponse{StatusCode: int(status.Int32), Body: body}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &resp.Headers); err != nil {
			return nil, fmt.Errorf("decode saved headers: %w", err)
		}
	}
	return resp, nil
}

func (t *publishTx) SaveResponse(ctx context.Context, userID string, key idempotency.Key, resp *domain.SavedResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE idempotency
		SET response_status_code = $3,
		    response_headers = $4,
		    response_body = $5
		WHERE user_id = $1 AND idempotency_key = $2
		  AND response_status_code IS NULL
	`, userID, string(key), resp.StatusCode, headers, resp.Body)
	if err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	if n == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

func (t *publishTx) InsertIssue(ctx context.Context, issue *domain.NewsletterIssue) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO newsletter_issues (newsletter_issue_id, title, text_content, html_content, published_at)
		VALUES ($1, $2, $3, $4, $5)
	`, issue.ID, issue.Title, issue.TextContent, issue.HTMLContent, issue.PublishedAt)
	if err != nil {
		return fmt.Errorf("insert newsletter issue: %w", err)
	}
	return nil
}

func (t *publishTx) EnqueueDeliveryTasks(ctx context.Context, issueID string, emails []domain.SubscriberEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	addrs := make([]string, len(emails))
	for i, e := range emails {
		addrs[i] = string(e)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
		SELECT $1, email FROM unnest($2::text[]) AS t(email)
		ON CONFLICT DO NOTHING
	`, issueID, pq.Array(addrs))
	if err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	return int(n), nil
}

func (t *publishTx) Commit() error { return t.tx.Commit() }
func (t *publishTx) Rollback() error { return t.tx.Rollback() }
