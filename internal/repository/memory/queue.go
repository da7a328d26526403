package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/worker"
)

var errClaimDone = errors.New("memory: claim already ended")

// Dequeue locks the oldest unlocked task. A released task goes to the back.
func (s *Store) Dequeue(_ context.Context) (worker.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.sortedRowsLocked() {
		if row.locked {
			continue
		}
		issue, ok := s.issues[row.task.IssueID]
		if !ok {
			// Mirrors the inner join: tasks without an issue are not claimable.
			continue
		}
		row.locked = true
		return &claim{store: s, row: row, issue: issue}, nil
	}
	return nil, nil
}

type claim struct {
	store *Store
	row   *queueRow
	issue domain.NewsletterIssue

	once sync.Once
}

func (c *claim) Task() domain.DeliveryTask { return c.row.task }
func (c *claim) Issue() domain.NewsletterIssue { return c.issue }

func (c *claim) Complete(_ context.Context) error {
	return c.finish(func() {
		delete(c.store.queue, taskKey{issueID: c.row.task.IssueID, email: c.row.task.SubscriberEmail})
	})
}

func (c *claim) Release(_ context.Context) error {
	return c.finish(func() {
		c.row.task.Attempts++
		c.store.seq++
		c.row.seq = c.store.seq
		c.row.locked = false
	})
}

func (c *claim) finish(apply func()) error {
	err := errClaimDone
	c.once.Do(func() {
		c.store.mu.Lock()
		defer c.store.mu.Unlock()
		apply()
		err = nil
	})
	return err
}
