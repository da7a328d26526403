package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
	"github.com/ignite/newsletter-delivery/internal/service/newsletter"
)

var errTxDone = errors.New("memory: transaction has already been committed or rolled back")

// Begin opens a publish transaction. Writes stay private to the transaction
// until Commit, except for idempotency keys, which are held from the moment
// they are inserted.
func (s *Store) Begin(_ context.Context) (newsletter.Tx, error) {
	return &publishTx{store: s, responses: make(map[ledgerKey]*domain.SavedResponse)}, nil
}

type pendingTasks struct {
	issueID string
	emails  []string
}

type publishTx struct {
	store *Store

	mu        sync.Mutex
	done      bool
	claimed   []ledgerKey
	responses map[ledgerKey]*domain.SavedResponse
	issues    []domain.NewsletterIssue
	tasks     []pendingTasks
}

func (tx *publishTx) InsertPending(ctx context.Context, userID string, key idempotency.Key) (bool, error) {
	k := ledgerKey{userID: userID, key: key}
	s := tx.store
	for {
		if err := tx.checkOpen(); err != nil {
			return false, err
		}
		s.mu.Lock()
		row, ok := s.ledger[k]
		if !ok {
			s.ledger[k] = &ledgerRow{
				record: domain.IdempotencyRecord{UserID: userID, Key: string(key), CreatedAt: s.now().UTC()},
				owner:  tx,
				done:   make(chan struct{}),
			}
			s.mu.Unlock()
			tx.mu.Lock()
			tx.claimed = append(tx.claimed, k)
			tx.mu.Unlock()
			return true, nil
		}
		if row.owner == nil || row.owner == tx {
			s.mu.Unlock()
			return false, nil
		}
		wait := row.done
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (tx *publishTx) SavedResponse(_ context.Context, userID string, key idempotency.Key) (*domain.SavedResponse, error) {
	k := ledgerKey{userID: userID, key: key}
	tx.mu.Lock()
	if resp, ok := tx.responses[k]; ok {
		tx.mu.Unlock()
		return cloneResponse(resp), nil
	}
	tx.mu.Unlock()

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.ledger[k]
	if !ok || (row.owner != nil && row.owner != tx) {
		return nil, idempotency.ErrNotFound
	}
	return cloneResponse(row.record.Response), nil
}

func (tx *publishTx) SaveResponse(_ context.Context, userID string, key idempotency.Key, resp *domain.SavedResponse) error {
	k := ledgerKey{userID: userID, key: key}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	for _, c := range tx.claimed {
		if c == k {
			tx.responses[k] = cloneResponse(resp)
			return nil
		}
	}
	return idempotency.ErrNotFound
}

func (tx *publishTx) InsertIssue(_ context.Context, issue *domain.NewsletterIssue) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.issues = append(tx.issues, *issue)
	return nil
}

func (tx *publishTx) EnqueueDeliveryTasks(_ context.Context, issueID string, emails []domain.SubscriberEmail) (int, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return 0, errTxDone
	}
	seen := make(map[string]bool, len(emails))
	batch := pendingTasks{issueID: issueID}
	for _, e := range emails {
		if seen[string(e)] {
			continue
		}
		seen[string(e)] = true
		batch.emails = append(batch.emails, string(e))
	}
	tx.tasks = append(tx.tasks, batch)
	return len(batch.emails), nil
}

func (tx *publishTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, is := range tx.issues {
		s.issues[is.ID] = is
	}
	for _, b := range tx.tasks {
		for _, e := range b.emails {
			s.enqueueLocked(b.issueID, e)
		}
	}
	for _, k := range tx.claimed {
		row := s.ledger[k]
		row.record.Response = tx.responses[k]
		row.owner = nil
		close(row.done)
	}
	return nil
}

func (tx *publishTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range tx.claimed {
		row := s.ledger[k]
		delete(s.ledger, k)
		close(row.done)
	}
	return nil
}

func (tx *publishTx) checkOpen() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errTxDone
	}
	return nil
}

func cloneResponse(r *domain.SavedResponse) *domain.SavedResponse {
	if r == nil {
		return nil
	}
	out := &domain.SavedResponse{StatusCode: r.StatusCode}
	out.Headers = make([]domain.HeaderPair, len(r.Headers))
	for i, h := range r.Headers {
		out.Headers[i] = domain.HeaderPair{Name: h.Name, Value: append([]byte(nil), h.Value...)}
	}
	out.Body = append([]byte(nil), r.Body...)
	return out
}
