package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
)

// =============================================================================
// DELIVERY WORKER: Drains the Issue Delivery Queue One Task at a Time
// =============================================================================
// Each iteration claims the oldest unclaimed task under a row lock, sends the
// issue to that one recipient and then either retires the task (deletes the
// row) or releases it for a later retry. Any number of workers, in any number
// of processes, can run against the same queue: a claimed row is invisible to
// every other dequeuer until its transaction ends.
//
// Outcome policy:
//   - sent:                      retire, TaskCompleted
//   - invalid stored address:    retire + warn, TaskSkipped
//   - permanent transport error: retire + warn, TaskSkipped
//   - anything else:             release (row stays), TaskFailedTransiently

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultErrorBackoff    = 1 * time.Second
	DefaultMaxErrorBackoff = 1 * time.Minute
	DefaultSendTimeout     = 30 * time.Second

	// finishTimeout bounds the commit that ends a claim.
	finishTimeout = 10 * time.Second
)

// ErrTransientDelivery wraps a send failure that left the task queued.
var ErrTransientDelivery = errors.New("transient delivery failure")

// ExecutionOutcome is the result of one TryExecuteTask call.
type ExecutionOutcome int

const (
	TaskCompleted ExecutionOutcome = iota
	TaskSkipped
	EmptyQueue
	TaskFailedTransiently
)

func (o ExecutionOutcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case TaskSkipped:
		return "task_skipped"
	case EmptyQueue:
		return "empty_queue"
	case TaskFailedTransiently:
		return "task_failed_transiently"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Claim is a delivery task locked by the caller of Dequeue. Exactly one of
// Complete or Release must be called. Both end the claim even when they fail:
// on error the implementation rolls back, which leaves the task queued.
type Claim interface {
	Task() domain.DeliveryTask
	Issue() domain.NewsletterIssue

	// Complete deletes the task and ends the claim.
	Complete(ctx context.Context) error

	// Release keeps the task queued, records the failed attempt and ends the claim.
	Release(ctx context.Context) error
}

// DeliveryQueue hands out delivery tasks, oldest first.
type DeliveryQueue interface {
	// Dequeue claims the oldest task no one else holds. It returns a nil
	// Claim when there is nothing to claim.
	Dequeue(ctx context.Context) (Claim, error)
}

// DeliveryWorkerConfig holds the loop timings. Zero values take the defaults.
type DeliveryWorkerConfig struct {
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	MaxErrorBackoff time.Duration
	SendTimeout     time.Duration
}

// DeliveryWorker sends queued newsletter issues.
type DeliveryWorker struct {
	queue  DeliveryQueue
	sender sending.EmailSender
	log    *logger.Logger
	cfg    DeliveryWorkerConfig

	totalSent    int64
	totalSkipped int64
	totalFailed  int64
}

// NewDeliveryWorker creates a worker that sends through sender.
func NewDeliveryWorker(queue DeliveryQueue, sender sending.EmailSender, cfg DeliveryWorkerConfig) *DeliveryWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.MaxErrorBackoff < cfg.ErrorBackoff {
		cfg.MaxErrorBackoff = DefaultMaxErrorBackoff
		if cfg.MaxErrorBackoff < cfg.ErrorBackoff {
			cfg.MaxErrorBackoff = cfg.ErrorBackoff
		}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &DeliveryWorker{
		queue:  queue,
		sender: sender,
		log:    logger.Named("delivery_worker"),
		cfg:    cfg,
	}
}

// TryExecuteTask claims and processes at most one task. A non-nil error
// comes with TaskFailedTransiently and means any claimed task is still
// queued; errors.Is(err, ErrTransientDelivery) tells a failed send apart
// from a storage failure.
//
// Once a task is claimed it is driven to an outcome even if ctx is cancelled
// mid-send.
func (w *DeliveryWorker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	outcome, _, err := w.execute(ctx)
	return outcome, err
}

// taskKey identifies a queued task across claims.
type taskKey struct {
	issueID string
	email   string
}

func (w *DeliveryWorker) execute(ctx context.Context) (ExecutionOutcome, taskKey, error) {
	claim, err := w.queue.Dequeue(ctx)
	if err != nil {
		return TaskFailedTransiently, taskKey{}, fmt.Errorf("dequeue delivery task: %w", err)
	}
	if claim == nil {
		return EmptyQueue, taskKey{}, nil
	}

	task := claim.Task()
	key := taskKey{issueID: task.IssueID, email: task.SubscriberEmail}
	finishCtx := context.WithoutCancel(ctx)

	email, err := domain.ParseSubscriberEmail(task.SubscriberEmail)
	if err != nil {
		w.log.Warn("Skipping a confirmed subscriber. Their stored contact details are invalid",
			"issue_id", task.IssueID,
			"subscriber_email", task.SubscriberEmail,
			"error", err,
		)
		outcome, err := w.retire(finishCtx, claim, TaskSkipped)
		return outcome, key, err
	}

	issue := claim.Issue()
	sendCtx, cancel := context.WithTimeout(finishCtx, w.cfg.SendTimeout)
	sendErr := w.sender.Send(sendCtx, email.String(), issue.Title, issue.HTMLContent, issue.TextContent)
	cancel()

	switch {
	case sendErr == nil:
		outcome, err := w.retire(finishCtx, claim, TaskCompleted)
		return outcome, key, err
	case sending.IsPermanent(sendErr):
		w.log.Warn("Failed to deliver issue to a confirmed subscriber. Skipping",
			"issue_id", task.IssueID,
			"subscriber_email", task.SubscriberEmail,
			"error", sendErr,
		)
		outcome, err := w.retire(finishCtx, claim, TaskSkipped)
		return outcome, key, err
	}

	atomic.AddInt64(&w.totalFailed, 1)
	relCtx, cancel := context.WithTimeout(finishCtx, finishTimeout)
	defer cancel()
	if err := claim.Release(relCtx); err != nil {
		return TaskFailedTransiently, key, fmt.Errorf("release delivery task after failed send (%v): %w", sendErr, err)
	}
	w.log.Warn("Delivery attempt failed, task stays queued",
		"issue_id", task.IssueID,
		"subscriber_email", task.SubscriberEmail,
		"attempts", task.Attempts+1,
		"error", sendErr,
	)
	return TaskFailedTransiently, key, fmt.Errorf("%w: issue %s: %w", ErrTransientDelivery, task.IssueID, sendErr)
}

func (w *DeliveryWorker) retire(ctx context.Context, claim Claim, outcome ExecutionOutcome) (ExecutionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, finishTimeout)
	defer cancel()
	if err := claim.Complete(ctx); err != nil {
		return TaskFailedTransiently, fmt.Errorf("retire delivery task: %w", err)
	}
	if outcome == TaskSkipped {
		atomic.AddInt64(&w.totalSkipped, 1)
	} else {
		atomic.AddInt64(&w.totalSent, 1)
	}
	return outcome, nil
}

// Drain processes tasks until the queue is empty. A failed send does not end
// the pass: the released task goes to the back of the queue and the pass
// stops once the same task fails again, returning every send failure joined.
// A storage error or a cancelled ctx ends the pass at once. Tasks retired
// before that stay retired.
func (w *DeliveryWorker) Drain(ctx context.Context) error {
	var errs []error
	failed := make(map[taskKey]bool)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		outcome, key, err := w.execute(ctx)
		if err != nil {
			errs = append(errs, err)
			if !errors.Is(err, ErrTransientDelivery) || failed[key] {
				return errors.Join(errs...)
			}
			failed[key] = true
			continue
		}
		if outcome == EmptyQueue {
			return errors.Join(errs...)
		}
	}
}

// Run executes tasks until ctx is cancelled. It sleeps PollInterval when the
// queue is empty and backs off exponentially while iterations keep failing.
func (w *DeliveryWorker) Run(ctx context.Context) {
	log.Printf("[DeliveryWorker] Starting (poll_interval=%s, error_backoff=%s..%s)",
		w.cfg.PollInterval, w.cfg.ErrorBackoff, w.cfg.MaxErrorBackoff)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.ErrorBackoff
	bo.MaxInterval = w.cfg.MaxErrorBackoff

	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			w.logStopped()
			return
		}

		outcome, err := w.TryExecuteTask(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			wait = bo.NextBackOff()
			if !errors.Is(err, ErrTransientDelivery) {
				w.log.Error("Delivery iteration failed", "error", err, "retry_in", wait.String())
			}
		case outcome == EmptyQueue:
			bo.Reset()
			wait = w.cfg.PollInterval
		default:
			bo.Reset()
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			w.logStopped()
			return
		case <-timer.C:
		}
	}
}

func (w *DeliveryWorker) logStopped() {
	s := w.Stats()
	log.Printf("[DeliveryWorker] Stopped. Total sent: %d, skipped: %d, failed attempts: %d",
		s["total_sent"], s["total_skipped"], s["total_failed"])
}

// Stats returns counters since the worker was created.
func (w *DeliveryWorker) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":    atomic.LoadInt64(&w.totalSent),
		"total_skipped": atomic.LoadInt64(&w.totalSkipped),
		"total_failed":  atomic.LoadInt64(&w.totalFailed),
	}
}
