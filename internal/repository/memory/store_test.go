package memory

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/service/idempotency"
)

func savedSeeOther() *domain.SavedResponse {
	return &domain.SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers:    []domain.HeaderPair{{Name: "Location", Value: []byte("/admin/newsletters")}},
		Body:       []byte("ok"),
	}
}

func TestPublishTx_WritesInvisibleUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	inserted, err := tx.InsertPending(ctx, "u1", "k1")
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, tx.InsertIssue(ctx, &domain.NewsletterIssue{ID: "i1", Title: "T"}))
	n, err := tx.EnqueueDeliveryTasks(ctx, "i1", []domain.SubscriberEmail{"a@example.com", "a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "duplicates collapse")
	require.NoError(t, tx.SaveResponse(ctx, "u1", "k1", savedSeeOther()))

	other, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = other.SavedResponse(ctx, "u1", "k1")
	assert.ErrorIs(t, err, idempotency.ErrNotFound, "an uncommitted row is not visible to others")
	require.NoError(t, other.Rollback())

	assert.Empty(t, s.Issues())
	assert.Empty(t, s.PendingTasks())

	require.NoError(t, tx.Commit())
	assert.Len(t, s.Issues(), 1)
	assert.Len(t, s.PendingTasks(), 2)

	reader, err := s.Begin(ctx)
	require.NoError(t, err)
	defer reader.Rollback()
	resp, err := reader.SavedResponse(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, savedSeeOther(), resp)
}

func TestPublishTx_DuplicateInsertWaitsForOwner(t *testing.T) {
	s := New()
	ctx := context.Background()

	owner, _ := s.Begin(ctx)
	_, err := owner.InsertPending(ctx, "u1", "k1")
	require.NoError(t, err)

	result := make(chan bool, 1)
	go func() {
		waiter, _ := s.Begin(ctx)
		defer waiter.Rollback()
		inserted, err := waiter.InsertPending(ctx, "u1", "k1")
		assert.NoError(t, err)
		result <- inserted
	}()

	select {
	case <-result:
		t.Fatal("duplicate insert must block while the owner is open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, owner.SaveResponse(ctx, "u1", "k1", savedSeeOther()))
	require.NoError(t, owner.Commit())
	assert.False(t, <-result)
}

func TestPublishTx_RollbackFreesKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	_, err := tx.InsertPending(ctx, "u1", "k1")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Error(t, tx.Commit())
	assert.Zero(t, s.LedgerSize())

	again, _ := s.Begin(ctx)
	defer again.Rollback()
	inserted, err := again.InsertPending(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestDequeue_SkipsLockedAndOrphanedTasks(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddIssue(domain.NewsletterIssue{ID: "i1"})
	s.AddTask("missing-issue", "x@example.com")
	s.AddTask("i1", "a@example.com")
	s.AddTask("i1", "b@example.com")

	first, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a@example.com", first.Task().SubscriberEmail)

	second, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "b@example.com", second.Task().SubscriberEmail)

	none, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, first.Release(ctx))
	assert.Error(t, first.Complete(ctx), "a claim ends once")
	require.NoError(t, second.Complete(ctx))

	again, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 1, again.Task().Attempts)

	depth, err := s.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestRelease_MovesTaskBehindQueuedTasks(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddIssue(domain.NewsletterIssue{ID: "i1"})
	s.AddIssue(domain.NewsletterIssue{ID: "i2"})
	s.AddTask("i1", "stuck@example.com")
	s.AddTask("i2", "fine@example.com")

	c, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "stuck@example.com", c.Task().SubscriberEmail)
	require.NoError(t, c.Release(ctx))

	next, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "fine@example.com", next.Task().SubscriberEmail)
	require.NoError(t, next.Complete(ctx))

	tasks := s.PendingTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stuck@example.com", tasks[0].SubscriberEmail)
	assert.Equal(t, 1, tasks[0].Attempts)
}

func TestDeleteCompletedBefore_KeepsSentinels(t *testing.T) {
	s := New()
	ctx := context.Background()
	past := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return past }

	done, _ := s.Begin(ctx)
	_, err := done.InsertPending(ctx, "u1", "old")
	require.NoError(t, err)
	require.NoError(t, done.SaveResponse(ctx, "u1", "old", savedSeeOther()))
	require.NoError(t, done.Commit())

	open, _ := s.Begin(ctx)
	_, err = open.InsertPending(ctx, "u1", "in-flight")
	require.NoError(t, err)

	n, err := s.DeleteCompletedBefore(ctx, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, s.LedgerSize())

	require.NoError(t, open.SaveResponse(ctx, "u1", "in-flight", savedSeeOther()))
	require.NoError(t, open.Commit())
	assert.Equal(t, 1, s.LedgerSize(), "the in-flight record survived the sweep")
}
