package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/newsletter-delivery/internal/domain"
)

// Tx is the part of a storage transaction the ledger works through.
// Implementations must make InsertPending block while another open
// transaction holds a row for the same (userID, key), and return only once
// that transaction has committed or rolled back.
type Tx interface {
	// InsertPending inserts the processing sentinel. It reports false when a
	// committed row already exists.
	InsertPending(ctx context.Context, userID string, key Key) (bool, error)

	// SavedResponse returns the stored response, or nil while the row is
	// still the sentinel. Returns ErrNotFound when there is no row.
	SavedResponse(ctx context.Context, userID string, key Key) (*domain.SavedResponse, error)

	// SaveResponse overwrites the sentinel with resp.
	SaveResponse(ctx context.Context, userID string, key Key, resp *domain.SavedResponse) error
}

// maxInsertAttempts bounds the retry when a conflicting row disappears
// between the insert and the read (a retention purge ran in between).
const maxInsertAttempts = 2

// TryProcessing claims (userID, key) on tx. A nil response means the caller
// owns the key and must go on to do the work and call Complete before
// committing. A non-nil response is the saved outcome of an earlier request;
// the caller must roll tx back and return it unchanged.
func TryProcessing(ctx context.Context, tx Tx, userID string, key Key) (*domain.SavedResponse, error) {
	for attempt := 1; ; attempt++ {
		inserted, err := tx.InsertPending(ctx, userID, key)
		if err != nil {
			return nil, fmt.Errorf("insert pending idempotency record: %w", err)
		}
		if inserted {
			return nil, nil
		}

		saved, err := tx.SavedResponse(ctx, userID, key)
		if errors.Is(err, ErrNotFound) && attempt < maxInsertAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read saved response: %w", err)
		}
		if saved == nil {
			return nil, ErrRequestInFlight
		}
		return saved, nil
	}
}

// Complete stores resp against (userID, key). It must run inside the same
// transaction that won TryProcessing.
func Complete(ctx context.Context, tx Tx, userID string, key Key, resp *domain.SavedResponse) error {
	if resp == nil {
		return errors.New("idempotency: nil response")
	}
	if err := tx.SaveResponse(ctx, userID, key, resp); err != nil {
		return fmt.Errorf("save response: %w", err)
	}
	return nil
}
