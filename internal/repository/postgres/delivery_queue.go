package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/worker"
)

// DeliveryQueue implements worker.DeliveryQueue on issue_delivery_queue.
//
// A claim is an open transaction holding a row lock on one queue row. The
// row is picked with FOR UPDATE OF q SKIP LOCKED so concurrent workers never
// wait on or share a task. The lock covers only the queue row, not the
// joined issue, so other tasks of the same issue stay claimable. If the
// process dies mid-claim the connection drops, Postgres rolls back and the
// task is claimable again.
//
// Release gives the row a fresh id, which moves a failing task behind
// everything already queued.
type DeliveryQueue struct{ db *sql.DB }

// NewDeliveryQueue creates a Postgres-backed delivery queue.
func NewDeliveryQueue(db *sql.DB) *DeliveryQueue { return &DeliveryQueue{db: db} }

func (q *DeliveryQueue) Dequeue(ctx context.Context) (worker.Claim, error) {
	// The transaction outlives ctx: a claimed task must reach Complete or
	// Release even during shutdown.
	tx, err := q.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	c := &claim{tx: tx}
	err = tx.QueryRowContext(ctx, `
		SELECT q.newsletter_issue_id, q.subscriber_email, q.n_attempts, q.enqueued_at,
		       i.title, i.text_content, i.html_content, i.published_at
		FROM issue_delivery_queue q
		JOIN newsletter_issues i ON i.newsletter_issue_id = q.newsletter_issue_id
		ORDER BY q.id
		FOR UPDATE OF q SKIP LOCKED
		LIMIT 1
	`).Scan(
		&c.task.IssueID, &c.task.SubscriberEmail, &c.task.Attempts, &c.task.EnqueuedAt,
		&c.issue.Title, &c.issue.TextContent, &c.issue.HTMLContent, &c.issue.PublishedAt,
	)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("claim delivery task: %w", err)
	}
	c.issue.ID = c.task.IssueID
	return c, nil
}

// QueueDepth returns the number of pending tasks.
func (q *DeliveryQueue) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_delivery_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count delivery tasks: %w", err)
	}
	return n, nil
}

type claim struct {
	tx    *sql.Tx
	task  domain.DeliveryTask
	issue domain.NewsletterIssue
}

func (c *claim) Task() domain.DeliveryTask { return c.task }

func (c *claim) Issue() domain.NewsletterIssue { return c.issue }

func (c *claim) Complete(ctx context.Context) error {
	return c.finish(ctx, "retire delivery task", `
		DELETE FROM issue_delivery_queue
		WHERE newsletter_issue_id = $1 AND subscriber_email = $2
	`)
}

func (c *claim) Release(ctx context.Context) error {
	return c.finish(ctx, "release delivery task", `
		UPDATE issue_delivery_queue
		SET n_attempts = n_attempts + 1,
		    id = nextval(pg_get_serial_sequence('issue_delivery_queue', 'id'))
		WHERE newsletter_issue_id = $1 AND subscriber_email = $2
	`)
}

func (c *claim) finish(ctx context.Context, op, stmt string) error {
	if _, err := c.tx.ExecContext(ctx, stmt, c.task.IssueID, c.task.SubscriberEmail); err != nil {
		_ = c.tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
