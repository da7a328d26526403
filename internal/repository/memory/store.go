package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
)

type ledgerKey struct {
	userID string
	key    idempotency.Key
}

type ledgerRow struct {
	record domain.IdempotencyRecord
	owner  *publishTx // nil once committed
	done   chan struct{}
}

type taskKey struct {
	issueID string
	email   string
}

type queueRow struct {
	seq    int64
	task   domain.DeliveryTask
	locked bool
}

type subscription struct {
	email  string
	status domain.SubscriberStatus
}

// Store holds every table in memory. The zero value is not usable; call New.
type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	seq           int64
	issues        map[string]domain.NewsletterIssue
	queue         map[taskKey]*queueRow
	ledger        map[ledgerKey]*ledgerRow
	subscriptions []subscription
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:    time.Now,
		issues: make(map[string]domain.NewsletterIssue),
		queue:  make(map[taskKey]*queueRow),
		ledger: make(map[ledgerKey]*ledgerRow),
	}
}

// AddSubscription records a subscription in the given status. The address is
// stored as given, so tests can plant values that no longer validate.
func (s *Store) AddSubscription(email string, status domain.SubscriberStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, subscription{email: email, status: status})
}

// ListConfirmed returns every confirmed subscription, parsing each address
// independently.
func (s *Store) ListConfirmed(_ context.Context) ([]domain.ConfirmedSubscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConfirmedSubscriber
	for _, sub := range s.subscriptions {
		if sub.status != domain.SubscriberConfirmed {
			continue
		}
		email, err := domain.ParseSubscriberEmail(sub.email)
		out = append(out, domain.ConfirmedSubscriber{Email: email, Raw: sub.email, Err: err})
	}
	return out, nil
}

// AddIssue stores an issue outside of a publish transaction.
func (s *Store) AddIssue(issue domain.NewsletterIssue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[issue.ID] = issue
}

// AddTask enqueues a task without validating the address.
func (s *Store) AddTask(issueID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(issueID, email)
}

func (s *Store) enqueueLocked(issueID, email string) bool {
	k := taskKey{issueID: issueID, email: email}
	if _, ok := s.queue[k]; ok {
		return false
	}
	s.seq++
	s.queue[k] = &queueRow{
		seq:  s.seq,
		task: domain.DeliveryTask{IssueID: issueID, SubscriberEmail: email, EnqueuedAt: s.now().UTC()},
	}
	return true
}

// Issues returns all stored issues ordered by publish time.
func (s *Store) Issues() []domain.NewsletterIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NewsletterIssue, 0, len(s.issues))
	for _, is := range s.issues {
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	return out
}

// PendingTasks returns the queue in insertion order.
func (s *Store) PendingTasks() []domain.DeliveryTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.sortedRowsLocked()
	out := make([]domain.DeliveryTask, len(rows))
	for i, r := range rows {
		out[i] = r.task
	}
	return out
}

// LedgerSize returns the number of committed idempotency records.
func (s *Store) LedgerSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.ledger {
		if row.owner == nil {
			n++
		}
	}
	return n
}

func (s *Store) sortedRowsLocked() []*queueRow {
	rows := make([]*queueRow, 0, len(s.queue))
	for _, r := range s.queue {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}

// DeleteCompletedBefore removes up to limit completed idempotency records
// created before cutoff.
func (s *Store) DeleteCompletedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, row := range s.ledger {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if row.owner != nil || row.record.Response == nil || !row.record.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.ledger, k)
		n++
	}
	return n, nil
}

// QueueDepth returns the number of pending delivery tasks.
func (s *Store) QueueDepth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}
