// package scheduler
//
// dispatches transfer items to workers in selection order, never more than K at a time,
// and owns the session's cancellation flag and retry bookkeeping
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
	"github.com/baderkha/access-transfer/pkg/migrate/worker"
)

var (
	// ErrInvalidState : the operation is not allowed in the current state
	ErrInvalidState = errors.New("invalid state")
)

const DefaultBatchSize = 500

// Runner : runs one item to a terminal state. *worker.Worker is the production runner.
type Runner interface {
	Run(ctx context.Context, obj catalog.Object, batchSize int, cancel worker.CancelFlag) state.Item
}

// RetryPolicy : automatic retries of retryable failures. MaxAttempts counts the first
// attempt, so anything below 2 turns automatic retries off.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Options struct {
	// Concurrency is K, the most items in flight at once
	Concurrency int
	BatchSize   int
	Retry       RetryPolicy
	// OnIdle is called, under the scheduler lock, each time the last outstanding item settles
	OnIdle func()
}

type Scheduler struct {
	store   *state.Store
	runner  Runner
	objects map[string]catalog.Object
	opts    Options
	log     zerolog.Logger

	cancelled atomic.Bool

	mu          sync.Mutex
	ctx         context.Context
	started     bool
	queue       []string
	active      map[string]bool
	batchSizes  map[string]int
	backoffs    map[string]*backoff.ExponentialBackOff
	timers      map[string]*time.Timer
	outstanding int
	idle        chan struct{}
}

func New(store *state.Store, runner Runner, objects []catalog.Object, opts Options, log zerolog.Logger) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		store:      store,
		runner:     runner,
		objects:    catalog.Index(objects),
		opts:       opts,
		log:        log,
		active:     map[string]bool{},
		batchSizes: map[string]int{},
		backoffs:   map[string]*backoff.ExponentialBackOff{},
		timers:     map[string]*time.Timer{},
		idle:       idle,
	}
}

// Cancelled : implements worker.CancelFlag
func (s *Scheduler) Cancelled() bool {
	return s.cancelled.Load()
}

// Start : queues every pending item in selection order and begins dispatching
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w : already started", ErrInvalidState)
	}
	if s.cancelled.Load() {
		return fmt.Errorf("%w : cancelled before start", ErrInvalidState)
	}
	s.started = true
	s.ctx = ctx
	for _, it := range s.store.Snapshot() {
		if it.Status == state.Pending {
			s.enqueueLocked(it.Name)
		}
	}
	if s.outstanding == 0 && s.opts.OnIdle != nil {
		s.opts.OnIdle()
	}
	s.dispatchLocked()
	return nil
}

// Cancel : pending items are cancelled now, running ones stop at their next batch boundary.
// Calling it again changes nothing.
func (s *Scheduler) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.queue
	s.queue = nil
	for _, name := range queued {
		if _, err := s.store.Cancel(name); err != nil {
			s.log.Debug().Err(err).Str("object", name).Msg("not cancelled")
		}
		s.untrackLocked()
	}
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
		s.untrackLocked()
	}
	s.log.Info().Int("dequeued", len(queued)).Int("running", len(s.active)).Msg("cancel requested")
}

// Retry : puts a failed item back in the queue. Siblings are untouched.
func (s *Scheduler) Retry(name string) error {
	if s.cancelled.Load() {
		return fmt.Errorf("%w : session cancelled", ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("%w : not started", ErrInvalidState)
	}
	if _, err := s.store.Retry(name); err != nil {
		return fmt.Errorf("%w : %v", ErrInvalidState, err)
	}
	s.enqueueLocked(name)
	// a manual retry supersedes a pending automatic one
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
		s.untrackLocked()
	}
	s.dispatchLocked()
	return nil
}

// Wait : blocks until nothing is queued, running or waiting to be retried
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle : true when nothing is queued, running or waiting to be retried
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding == 0
}

// Active : names currently dispatched to a worker
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for n := range s.active {
		out = append(out, n)
	}
	return out
}

func (s *Scheduler) enqueueLocked(name string) {
	s.queue = append(s.queue, name)
	s.trackLocked()
}

// dispatchLocked starts queued items, oldest first, while there are free slots. An item whose
// previous run has not returned yet stays queued so one object never has two workers.
func (s *Scheduler) dispatchLocked() {
	for len(s.active) < s.opts.Concurrency {
		idx := -1
		for i, name := range s.queue {
			if !s.active[name] {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		name := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.active[name] = true
		bs := s.batchSizeLocked(name)
		s.log.Debug().Str("object", name).Int("batch_size", bs).Int("running", len(s.active)).Msg("dispatching")
		go s.run(s.ctx, name, bs)
	}
}

func (s *Scheduler) run(ctx context.Context, name string, batchSize int) {
	s.runner.Run(ctx, s.objects[name], batchSize, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, name)
	// the item returned by the runner may be stale, an operator retry can requeue it between
	// the worker recording the failure and this lock
	if cur, ok := s.store.Get(name); !ok || s.queuedLocked(name) || !s.scheduleRetryLocked(cur) {
		s.untrackLocked()
	}
	s.dispatchLocked()
}

func (s *Scheduler) queuedLocked(name string) bool {
	for _, n := range s.queue {
		if n == name {
			return true
		}
	}
	return false
}

// scheduleRetryLocked arms a backoff timer for a retryable failure. The item stays
// outstanding while the timer is pending.
func (s *Scheduler) scheduleRetryLocked(it state.Item) bool {
	if it.Status != state.Failed || it.Error == nil || !it.Error.Class.Retryable() || s.cancelled.Load() {
		return false
	}
	if s.opts.Retry.MaxAttempts < 2 || it.Attempt >= s.opts.Retry.MaxAttempts {
		return false
	}
	if it.Error.Class == errclass.Timeout {
		bs := s.batchSizeLocked(it.Name) / 2
		if bs < 1 {
			bs = 1
		}
		s.batchSizes[it.Name] = bs
	}
	delay := s.backoffLocked(it.Name).NextBackOff()
	if delay == backoff.Stop {
		return false
	}
	s.log.Info().
		Str("object", it.Name).
		Str("class", string(it.Error.Class)).
		Int("attempt", it.Attempt).
		Dur("delay", delay).
		Msg("retrying")
	name := it.Name
	if t, ok := s.timers[name]; ok {
		// one timer per item, the one it replaces no longer counts as outstanding
		t.Stop()
		s.untrackLocked()
	}
	s.timers[name] = time.AfterFunc(delay, func() { s.fireRetry(name) })
	return true
}

func (s *Scheduler) fireRetry(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[name]; !ok {
		return
	}
	delete(s.timers, name)
	if s.cancelled.Load() {
		s.untrackLocked()
		return
	}
	if _, err := s.store.Retry(name); err != nil {
		s.log.Debug().Err(err).Str("object", name).Msg("automatic retry skipped")
		s.untrackLocked()
		return
	}
	// still tracked from the failed run
	s.queue = append(s.queue, name)
	s.dispatchLocked()
}

func (s *Scheduler) batchSizeLocked(name string) int {
	if bs, ok := s.batchSizes[name]; ok {
		return bs
	}
	return s.opts.BatchSize
}

func (s *Scheduler) backoffLocked(name string) *backoff.ExponentialBackOff {
	b, ok := s.backoffs[name]
	if !ok {
		b = backoff.NewExponentialBackOff()
		if s.opts.Retry.InitialInterval > 0 {
			b.InitialInterval = s.opts.Retry.InitialInterval
		}
		if s.opts.Retry.MaxInterval > 0 {
			b.MaxInterval = s.opts.Retry.MaxInterval
		}
		b.MaxElapsedTime = 0
		b.Reset()
		s.backoffs[name] = b
	}
	return b
}

func (s *Scheduler) trackLocked() {
	if s.outstanding == 0 {
		s.idle = make(chan struct{})
	}
	s.outstanding++
}

func (s *Scheduler) untrackLocked() {
	s.outstanding--
	if s.outstanding > 0 {
		return
	}
	s.outstanding = 0
	close(s.idle)
	if s.opts.OnIdle != nil {
		s.opts.OnIdle()
	}
}
