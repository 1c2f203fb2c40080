package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
	"github.com/ericfisherdev/txmirror/internal/telemetry"
)

// ErrQueueFull is returned by Enqueue when the job queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// errJobPanicked wraps a recovered handler panic.
var errJobPanicked = errors.New("job handler panicked")

const deadLetterTimeout = 5 * time.Second

// JobHandler is the worker entry point invoked for each dequeued job.
type JobHandler interface {
	Handle(ctx context.Context, job model.Job) error
}

// Enqueuer accepts jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(job model.Job) error
}

// Dispatcher moves jobs from the JobQueue to a JobHandler on a fixed pool of
// consumers. Failed jobs are dead-lettered, not retried.
//
// At most one job per account runs at a time. A job dequeued while its
// account is busy is parked and later run by the consumer that owns the
// account, so the other consumers stay free for other accounts. A parked
// SYNC_RECORDS job still counts as pending for coalescing.
//
// Each consumer runs its dequeued batch in order, so a slow job delays the
// rest of that batch.
type Dispatcher struct {
	queue       driven.JobQueue
	handler     JobHandler
	deadLetters driven.DeadLetterStore
	workers     int
	batchSize   int

	mu      sync.Mutex
	pending map[string]struct{}    // SYNC_RECORDS accounts queued or parked, not started.
	running map[string]struct{}    // accounts with a job in progress.
	parked  map[string][]model.Job // jobs waiting for their account, in arrival order.

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Non-positive workers or batchSize
// fall back to 1.
func NewDispatcher(
	queue driven.JobQueue,
	handler JobHandler,
	deadLetters driven.DeadLetterStore,
	workers int,
	batchSize int,
) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Dispatcher{
		queue:       queue,
		handler:     handler,
		deadLetters: deadLetters,
		workers:     workers,
		batchSize:   batchSize,
		pending:     make(map[string]struct{}),
		running:     make(map[string]struct{}),
		parked:      make(map[string][]model.Job),
	}
}

// Enqueue assigns the job an ID and enqueue time and hands it to the queue
// without blocking. A SYNC_RECORDS job for an account that already has one
// waiting is dropped as a duplicate, since the waiting job reads the latest
// cursor when it runs. Returns ErrQueueFull when the queue has no room.
func (d *Dispatcher) Enqueue(job model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	key, coalesce := pendingKey(job)
	if coalesce {
		d.mu.Lock()
		if _, queued := d.pending[key]; queued {
			d.mu.Unlock()
			telemetry.JobsCoalescedTotal.WithLabelValues(string(job.Kind)).Inc()
			slog.Debug("job coalesced", "kind", job.Kind, "account_id", job.AccountID)
			return nil
		}
		d.pending[key] = struct{}{}
		d.mu.Unlock()
	}

	if !d.queue.TryEnqueue(job) {
		if coalesce {
			d.mu.Lock()
			delete(d.pending, key)
			d.mu.Unlock()
		}
		telemetry.JobsDroppedTotal.WithLabelValues(string(job.Kind)).Inc()
		return fmt.Errorf("enqueue %s for account %s: %w", job.Kind, job.AccountID, ErrQueueFull)
	}

	telemetry.JobsEnqueuedTotal.WithLabelValues(string(job.Kind)).Inc()
	telemetry.QueueDepth.Set(float64(d.queue.Depth()))
	slog.Debug("job enqueued", "job_id", job.ID, "kind", job.Kind, "account_id", job.AccountID)

	return nil
}

// Start launches the consumers. They stop when ctx is canceled or the queue
// is closed and drained; Wait blocks until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("dispatcher started", "workers", d.workers, "batch_size", d.batchSize, "queue_capacity", d.queue.Capacity())

	for range d.workers {
		d.wg.Add(1)
		go d.consume(ctx)
	}
}

// Wait blocks until every consumer has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// QueueDepth returns the number of jobs waiting to be consumed.
func (d *Dispatcher) QueueDepth() int {
	return d.queue.Depth()
}

func (d *Dispatcher) consume(ctx context.Context) {
	defer d.wg.Done()

	for {
		batch, ok := d.queue.DequeueBatch(ctx, d.batchSize)
		if !ok {
			return
		}
		telemetry.QueueDepth.Set(float64(d.queue.Depth()))

		for _, job := range batch {
			if ctx.Err() != nil {
				slog.Warn("job dropped at shutdown", "job_id", job.ID, "kind", job.Kind, "account_id", job.AccountID)
				continue
			}
			if !d.claim(job) {
				continue
			}
			d.runAccount(ctx, job)
		}
	}
}

// claim marks job's account as running and returns true, or parks job and
// returns false when the account already has a job in progress.
func (d *Dispatcher) claim(job model.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.running[job.AccountID]; busy {
		d.parked[job.AccountID] = append(d.parked[job.AccountID], job)
		telemetry.JobsParkedTotal.WithLabelValues(string(job.Kind)).Inc()
		slog.Debug("job parked behind running account", "job_id", job.ID, "kind", job.Kind, "account_id", job.AccountID)
		return false
	}

	d.running[job.AccountID] = struct{}{}
	d.markStartedLocked(job)
	return true
}

// runAccount runs job and then every job parked for the same account.
func (d *Dispatcher) runAccount(ctx context.Context, job model.Job) {
	for {
		d.run(ctx, job)

		next, ok := d.nextParked(ctx, job.AccountID)
		if !ok {
			return
		}
		job = next
	}
}

// nextParked pops the next parked job for accountID. When none is left, or
// ctx is done, the account is released.
func (d *Dispatcher) nextParked(ctx context.Context, accountID string) (model.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	queued := d.parked[accountID]
	if len(queued) == 0 || ctx.Err() != nil {
		for _, job := range queued {
			d.markStartedLocked(job)
			slog.Warn("job dropped at shutdown", "job_id", job.ID, "kind", job.Kind, "account_id", job.AccountID)
		}
		delete(d.parked, accountID)
		delete(d.running, accountID)
		return model.Job{}, false
	}

	next := queued[0]
	if len(queued) == 1 {
		delete(d.parked, accountID)
	} else {
		d.parked[accountID] = queued[1:]
	}
	d.markStartedLocked(next)
	return next, true
}

// markStartedLocked clears job's coalescing entry. d.mu must be held.
func (d *Dispatcher) markStartedLocked(job model.Job) {
	if key, coalesce := pendingKey(job); coalesce {
		delete(d.pending, key)
	}
}

func (d *Dispatcher) run(ctx context.Context, job model.Job) {
	start := time.Now()

	err := d.invoke(ctx, job)
	if err == nil {
		slog.Debug("job completed", "job_id", job.ID, "kind", job.Kind, "account_id", job.AccountID,
			"duration", time.Since(start).Round(time.Millisecond))
		return
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		slog.Warn("job interrupted by shutdown", "job_id", job.ID, "kind", job.Kind, "account_id", job.AccountID)
		return
	}

	telemetry.JobsFailedTotal.WithLabelValues(string(job.Kind)).Inc()
	slog.Error("job failed",
		"job_id", job.ID,
		"kind", job.Kind,
		"account_id", job.AccountID,
		"error", err,
	)

	d.deadLetter(ctx, job, err)
}

// invoke calls the handler, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job handler panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", errJobPanicked, r)
		}
	}()

	return d.handler.Handle(ctx, job)
}

func (d *Dispatcher) deadLetter(ctx context.Context, job model.Job, cause error) {
	if d.deadLetters == nil {
		return
	}

	attempts := 1
	var sourceErr *SourceCallError
	if errors.As(cause, &sourceErr) {
		attempts = sourceErr.Attempts
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()

	err := d.deadLetters.Record(writeCtx, model.DeadLetter{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Kind:      job.Kind,
		AccountID: job.AccountID,
		Error:     cause.Error(),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	})
	if err != nil {
		slog.Error("failed to record dead letter", "job_id", job.ID, "error", err)
		return
	}

	telemetry.DeadLettersTotal.Inc()
}

// pendingKey returns the coalescing key for job and whether it coalesces.
func pendingKey(job model.Job) (string, bool) {
	if job.Kind != model.JobKindSyncRecords {
		return "", false
	}
	return string(job.Kind) + "|" + job.AccountID, true
}
