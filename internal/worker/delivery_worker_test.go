package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/repository/memory"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
	"github.com/ignite/newsletter-delivery/internal/worker"
)

// recordingSender counts successful sends per recipient. fail, when set,
// decides the outcome of each attempt.
type recordingSender struct {
	mu       sync.Mutex
	sent     map[string]int
	attempts map[string]int
	subjects []string
	fail     func(to string, attempt int) error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: map[string]int{}, attempts: map[string]int{}}
}

func (s *recordingSender) Send(_ context.Context, to, subject, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[to]++
	if s.fail != nil {
		if err := s.fail(to, s.attempts[to]); err != nil {
			return err
		}
	}
	s.sent[to]++
	s.subjects = append(s.subjects, subject)
	return nil
}

func (s *recordingSender) sentTo(to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[to]
}

func seedIssue(store *memory.Store, id string, emails ...string) {
	store.AddIssue(domain.NewsletterIssue{
		ID:          id,
		Title:       "Issue " + id,
		HTMLContent: "<p>body</p>",
		TextContent: "body",
		PublishedAt: time.Now(),
	})
	for _, e := range emails {
		store.AddTask(id, e)
	}
}

func fastConfig() worker.DeliveryWorkerConfig {
	return worker.DeliveryWorkerConfig{
		PollInterval:    5 * time.Millisecond,
		ErrorBackoff:    time.Millisecond,
		MaxErrorBackoff: 5 * time.Millisecond,
		SendTimeout:     time.Second,
	}
}

func TestTryExecuteTask_EmptyQueue(t *testing.T) {
	w := worker.NewDeliveryWorker(memory.New(), newRecordingSender(), fastConfig())

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.EmptyQueue, outcome)
}

func TestTryExecuteTask_SendsAndRetires(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "ursula@example.com")
	sender := newRecordingSender()
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.TaskCompleted, outcome)
	assert.Equal(t, 1, sender.sentTo("ursula@example.com"))
	assert.Equal(t, []string{"Issue issue-1"}, sender.subjects)
	assert.Empty(t, store.PendingTasks())
	assert.EqualValues(t, 1, w.Stats()["total_sent"])

	outcome, err = w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.EmptyQueue, outcome)
}

func TestTryExecuteTask_InvalidStoredAddressIsSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	defer logger.ReplaceCore(core)()

	store := memory.New()
	seedIssue(store, "issue-1", "not-an-email")
	sender := newRecordingSender()
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.TaskSkipped, outcome)
	assert.Empty(t, store.PendingTasks(), "invalid task must not be retried")
	assert.Empty(t, sender.attempts)

	warnings := logs.FilterMessageSnippet("Skipping a confirmed subscriber").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "issue-1", warnings[0].ContextMap()["issue_id"])
}

func TestTryExecuteTask_PermanentFailureIsSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	defer logger.ReplaceCore(core)()

	store := memory.New()
	seedIssue(store, "issue-1", "bounced@example.com")
	sender := newRecordingSender()
	sender.fail = func(string, int) error { return sending.Permanent(errors.New("422 inactive recipient")) }
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	outcome, err := w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.TaskSkipped, outcome)
	assert.Empty(t, store.PendingTasks())
	assert.Equal(t, 1, logs.FilterMessageSnippet("Skipping").Len())
	assert.EqualValues(t, 1, w.Stats()["total_skipped"])
}

func TestTryExecuteTask_TransientFailureKeepsTask(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "ursula@example.com")
	sender := newRecordingSender()
	sender.fail = func(_ string, attempt int) error {
		if attempt == 1 {
			return errors.New("503 service unavailable")
		}
		return nil
	}
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	outcome, err := w.TryExecuteTask(context.Background())
	assert.Equal(t, worker.TaskFailedTransiently, outcome)
	require.ErrorIs(t, err, worker.ErrTransientDelivery)
	tasks := store.PendingTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Attempts)

	outcome, err = w.TryExecuteTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, worker.TaskCompleted, outcome)
	assert.Equal(t, 1, sender.sentTo("ursula@example.com"))
	assert.Empty(t, store.PendingTasks())
}

func TestTryExecuteTask_OldestFirst(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "first@example.com", "second@example.com")
	seedIssue(store, "issue-2", "third@example.com")
	sender := newRecordingSender()
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	require.NoError(t, w.Drain(context.Background()))
	assert.Equal(t, []string{"Issue issue-1", "Issue issue-1", "Issue issue-2"}, sender.subjects)
}

func TestTryExecuteTask_FinishesClaimWhenCancelledMidSend(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "ursula@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	sender := sending.SenderFunc(func(sendCtx context.Context, _, _, _, _ string) error {
		cancel()
		return sendCtx.Err()
	})
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	outcome, err := w.TryExecuteTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, worker.TaskCompleted, outcome)
	assert.Empty(t, store.PendingTasks())
}

type brokenQueue struct{ err error }

func (q brokenQueue) Dequeue(context.Context) (worker.Claim, error) { return nil, q.err }

func TestTryExecuteTask_QueueErrorIsNotTransientDelivery(t *testing.T) {
	boom := errors.New("connection refused")
	w := worker.NewDeliveryWorker(brokenQueue{err: boom}, newRecordingSender(), fastConfig())

	outcome, err := w.TryExecuteTask(context.Background())
	assert.Equal(t, worker.TaskFailedTransiently, outcome)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, worker.ErrTransientDelivery)
}

func TestTryExecuteTask_FailingTaskDoesNotBlockLaterTasks(t *testing.T) {
	store := memory.New()
	seedIssue(store, "old", "stuck@example.com")
	seedIssue(store, "new", "fine@example.com")
	sender := newRecordingSender()
	sender.fail = func(to string, _ int) error {
		if to == "stuck@example.com" {
			return errors.New("503 upstream")
		}
		return nil
	}
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	for i := 0; i < 4; i++ {
		_, _ = w.TryExecuteTask(context.Background())
	}

	assert.Equal(t, 1, sender.sentTo("fine@example.com"))
	tasks := store.PendingTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stuck@example.com", tasks[0].SubscriberEmail)
	assert.Equal(t, 3, tasks[0].Attempts)
}

func TestDrain_ContinuesPastTransientFailure(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "ok@example.com", "flaky@example.com", "later@example.com")
	sender := newRecordingSender()
	sender.fail = func(to string, attempt int) error {
		if to == "flaky@example.com" && attempt == 1 {
			return errors.New("timeout")
		}
		return nil
	}
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	err := w.Drain(context.Background())
	require.ErrorIs(t, err, worker.ErrTransientDelivery, "the failed attempt is still reported")
	assert.Empty(t, store.PendingTasks())
	for _, e := range []string{"ok@example.com", "flaky@example.com", "later@example.com"} {
		assert.Equal(t, 1, sender.sentTo(e), e)
	}
}

func TestDrain_DeliversBehindAPersistentlyFailingTask(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "stuck@example.com", "fine@example.com")
	sender := newRecordingSender()
	sender.fail = func(to string, _ int) error {
		if to == "stuck@example.com" {
			return errors.New("503 upstream")
		}
		return nil
	}
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	err := w.Drain(context.Background())
	require.ErrorIs(t, err, worker.ErrTransientDelivery)
	assert.Contains(t, err.Error(), "503 upstream")
	assert.Equal(t, 1, sender.sentTo("fine@example.com"))
	assert.Equal(t, 2, sender.attempts["stuck@example.com"], "a pass stops once a task fails twice")

	tasks := store.PendingTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stuck@example.com", tasks[0].SubscriberEmail)
}

func TestDrain_StopsOnQueueError(t *testing.T) {
	boom := errors.New("connection refused")
	w := worker.NewDeliveryWorker(brokenQueue{err: boom}, newRecordingSender(), fastConfig())

	err := w.Drain(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestDrain_StopsWhenCancelled(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "ursula@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := worker.NewDeliveryWorker(store, newRecordingSender(), fastConfig())

	assert.ErrorIs(t, w.Drain(ctx), context.Canceled)
	assert.Len(t, store.PendingTasks(), 1)
}

func TestConcurrentWorkersNeverSendTwice(t *testing.T) {
	store := memory.New()
	var emails []string
	for i := 0; i < 50; i++ {
		emails = append(emails, fmt.Sprintf("reader%02d@example.com", i))
	}
	seedIssue(store, "issue-1", emails...)
	sender := newRecordingSender()
	sender.fail = func(_ string, attempt int) error {
		if attempt == 1 {
			return errors.New("flaky")
		}
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := worker.NewDeliveryWorker(store, sender, fastConfig())
			for {
				outcome, _ := w.TryExecuteTask(context.Background())
				if outcome == worker.EmptyQueue {
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range emails {
		assert.Equal(t, 1, sender.sentTo(e), e)
	}
	assert.Empty(t, store.PendingTasks())
}

func TestRun_DrainsQueueAndStopsOnCancel(t *testing.T) {
	store := memory.New()
	seedIssue(store, "issue-1", "ursula@example.com", "le.guin@example.com")
	sender := newRecordingSender()
	sender.fail = func(to string, attempt int) error {
		if attempt < 3 {
			return errors.New("still down")
		}
		return nil
	}
	w := worker.NewDeliveryWorker(store, sender, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(store.PendingTasks()) == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, sender.sentTo("ursula@example.com"))
	assert.Equal(t, 1, sender.sentTo("le.guin@example.com"))
}

func TestExecutionOutcomeString(t *testing.T) {
	assert.Equal(t, "empty_queue", worker.EmptyQueue.String())
	assert.Equal(t, "task_failed_transiently", worker.TaskFailedTransiently.String())
}
