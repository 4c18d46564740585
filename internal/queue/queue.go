// Package queue admits generation jobs under a concurrency limit.
// Jobs are ordered by priority (FIFO within a priority band) and age, run with
// a per-job timeout whose cancellation reaches the task, and are rate limited
// per user before they are ever enqueued.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/kiln/internal/observability"
)

var (
	// ErrTimeout is returned when a job does not settle within its timeout.
	ErrTimeout = errors.New("queue: job timed out")

	// ErrQueueFull is returned when MaxPending jobs are already waiting.
	ErrQueueFull = errors.New("queue: too many pending jobs")
)

// AnonymousKey is the rate limit key for requests without a user.
const AnonymousKey = "anonymous"

// Config controls admission.
type Config struct {
	// MaxConcurrent is the number of jobs running at once.
	MaxConcurrent int

	// DefaultTimeout applies to jobs submitted without a timeout.
	DefaultTimeout time.Duration

	// MaxPending bounds waiting jobs. Zero means unbounded.
	MaxPending int

	// AgingInterval raises a waiting job's priority by one per interval so
	// low-priority work is never starved. Zero disables aging.
	AgingInterval time.Duration
}

// Options describe one submitted job.
type Options struct {
	UserID   string
	Priority int
	Timeout  time.Duration

	// Discard receives a successful result that arrived after the caller was
	// already answered with a timeout or cancellation. It runs on the runner
	// goroutine before the slot is freed.
	Discard func(value any)
}

// Recorder receives queue events. *observability.Metrics implements it.
type Recorder interface {
	QueueDepth(pending, running int)
	RateLimited()
}

type outcome struct {
	value any
	err   error
}

type job struct {
	id         string
	seq        uint64
	task       func(ctx context.Context) (any, error)
	priority   int
	enqueuedAt time.Time
	timeout    time.Duration
	userID     string
	ctx        context.Context
	done       chan outcome
	discard    func(value any)
}

// Queue is a prioritized, bounded job runner.
type Queue struct {
	cfg      Config
	limiter  *RateLimiter
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	pending []*job
	running int
	seq     uint64
}

// New creates a queue. limiter and recorder may be nil.
func New(cfg Config, limiter *RateLimiter, recorder Recorder) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Queue{
		cfg:      cfg,
		limiter:  limiter,
		recorder: recorder,
		now:      time.Now,
	}
}

// Start begins periodic maintenance. Idempotent.
func (q *Queue) Start() {
	if q.limiter != nil {
		q.limiter.Start()
	}
}

// Stop ends periodic maintenance. Idempotent.
func (q *Queue) Stop() {
	if q.limiter != nil {
		q.limiter.Stop()
	}
}

// Stats returns the pending and running job counts.
func (q *Queue) Stats() (pending, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.running
}

// Add submits a typed task and waits for its result.
func Add[T any](ctx context.Context, q *Queue, task func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	value, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		return task(ctx)
	}, opts)
	if err != nil {
		// Tasks may return a partial value with an error.
		if typed, ok := value.(T); ok {
			return typed, err
		}
		return zero, err
	}

	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("queue: unexpected result type %T", value)
	}
	return typed, nil
}

// Submit rate limits, enqueues and waits for task. The task receives a context
// that is cancelled on timeout or when ctx is cancelled.
func (q *Queue) Submit(ctx context.Context, task func(ctx context.Context) (any, error), opts Options) (any, error) {
	key := opts.UserID
	if key == "" {
		key = AnonymousKey
	}
	if err := q.limiter.Allow(key); err != nil {
		if q.recorder != nil {
			q.recorder.RateLimited()
		}
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}

	q.mu.Lock()
	if q.cfg.MaxPending > 0 && len(q.pending) >= q.cfg.MaxPending {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	q.seq++
	j := &job{
		id:         uuid.New().String(),
		seq:        q.seq,
		task:       task,
		priority:   opts.Priority,
		enqueuedAt: q.now(),
		timeout:    timeout,
		userID:     opts.UserID,
		ctx:        ctx,
		done:       make(chan outcome, 1),
		discard:    opts.Discard,
	}
	q.pending = append(q.pending, j)
	q.dispatchLocked()
	q.reportLocked()
	q.mu.Unlock()

	select {
	case out := <-j.done:
		return out.value, out.err
	case <-ctx.Done():
		if q.withdraw(j) {
			return nil, ctx.Err()
		}
		// Already running: the task context is derived from ctx and the runner
		// delivers promptly once it is cancelled.
		out := <-j.done
		return out.value, out.err
	}
}

// withdraw removes a job that has not started. Reports whether it was still pending.
func (q *Queue) withdraw(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, p := range q.pending {
		if p == j {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.reportLocked()
			return true
		}
	}
	return false
}

// dispatchLocked starts jobs while capacity allows. q.mu must be held.
func (q *Queue) dispatchLocked() {
	now := q.now()
	for q.running < q.cfg.MaxConcurrent && len(q.pending) > 0 {
		idx := q.nextLocked(now)
		j := q.pending[idx]
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		q.running++
		go q.run(j)
	}
}

// nextLocked picks the job with the highest effective priority, oldest first on ties.
func (q *Queue) nextLocked(now time.Time) int {
	best := 0
	bestPriority := q.effectivePriority(q.pending[0], now)
	for i := 1; i < len(q.pending); i++ {
		p := q.effectivePriority(q.pending[i], now)
		if p > bestPriority || (p == bestPriority && q.pending[i].seq < q.pending[best].seq) {
			best = i
			bestPriority = p
		}
	}
	return best
}

func (q *Queue) effectivePriority(j *job, now time.Time) int {
	if q.cfg.AgingInterval <= 0 {
		return j.priority
	}
	return j.priority + int(now.Sub(j.enqueuedAt)/q.cfg.AgingInterval)
}

func (q *Queue) reportLocked() {
	if q.recorder != nil {
		q.recorder.QueueDepth(len(q.pending), q.running)
	}
}

func (q *Queue) abortError(ctx context.Context, j *job) error {
	if j.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		observability.FromContext(j.ctx).Warn("queued job timed out",
			observability.String("job_id", j.id),
			observability.Duration("timeout", j.timeout),
		)
		return fmt.Errorf("%w after %s", ErrTimeout, j.timeout)
	}
	return j.ctx.Err()
}

func (q *Queue) discardLate(j *job, value any) {
	defer func() {
		if p := recover(); p != nil {
			observability.FromContext(j.ctx).Error("discard hook panicked",
				observability.String("job_id", j.id),
				observability.Any("panic", p),
			)
		}
	}()
	j.discard(value)
}

// run executes a job, delivers its outcome and frees the slot once the task returns.
func (q *Queue) run(j *job) {
	ctx, cancel := j.ctx, context.CancelFunc(func() {})
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(j.ctx, j.timeout)
	}

	settled := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				settled <- outcome{err: fmt.Errorf("queue: task panicked: %v", p)}
			}
		}()
		value, err := j.task(ctx)
		settled <- outcome{value: value, err: err}
	}()

	select {
	case out := <-settled:
		j.done <- out
	case <-ctx.Done():
		// A task that settled at the deadline still wins.
		select {
		case out := <-settled:
			j.done <- out
		default:
			j.done <- outcome{err: q.abortError(ctx, j)}
			if late := <-settled; late.err == nil && j.discard != nil {
				q.discardLate(j, late.value)
			}
		}
	}
	cancel()

	q.mu.Lock()
	q.running--
	q.dispatchLocked()
	q.reportLocked()
	q.mu.Unlock()
}
