package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/copier/copiertest"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
	"github.com/baderkha/access-transfer/pkg/migrate/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store *state.Store
	cp    *copiertest.Scripted
	conns *copiertest.Provider
	sched *Scheduler

	mu         sync.Mutex
	begun      []string
	running    int
	maxRunning int
	idleCalls  int
}

func newFixture(t *testing.T, objs []catalog.Object, plans map[string]*copiertest.Plan, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store: state.NewStore(objs),
		cp:    copiertest.New(plans),
		conns: &copiertest.Provider{},
	}
	f.store.OnChange(func(e state.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if e.Item.Status == state.InProgress && e.Prev == state.Pending {
			f.begun = append(f.begun, e.Item.Name)
			f.running++
			if f.running > f.maxRunning {
				f.maxRunning = f.running
			}
		}
		if e.Prev == state.InProgress && e.Item.Status.Terminal() {
			f.running--
		}
	})
	opts.OnIdle = func() {
		f.mu.Lock()
		f.idleCalls++
		f.mu.Unlock()
	}
	w := worker.New(f.store, f.cp.Registry(), f.conns, worker.Options{BatchTimeout: 5 * time.Second}, zerolog.Nop())
	f.sched = New(f.store, w, objs, opts, zerolog.Nop())
	return f
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sched.Wait(ctx))
}

func (f *fixture) status(name string) state.Status {
	it, _ := f.store.Get(name)
	return it.Status
}

func tables(names ...string) []catalog.Object {
	out := make([]catalog.Object, 0, len(names))
	for _, n := range names {
		out = append(out, catalog.Object{Name: n, Kind: catalog.KindTable, EstimatedRecordCount: catalog.Count(300)})
	}
	return out
}

func rows(n int64, names ...string) map[string]*copiertest.Plan {
	out := map[string]*copiertest.Plan{}
	for _, name := range names {
		out[name] = &copiertest.Plan{Rows: n}
	}
	return out
}

func TestStart_SelectionOrderWithSingleWorker(t *testing.T) {
	names := []string{"Orders", "Customers", "Products", "Suppliers"}
	f := newFixture(t, tables(names...), rows(300, names...), Options{Concurrency: 1, BatchSize: 100})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	require.Equal(t, names, f.begun)
	require.Equal(t, 1, f.maxRunning)
	for _, n := range names {
		require.Equal(t, state.Completed, f.status(n))
	}
	require.Equal(t, 1, f.idleCalls)
}

func TestStart_ConcurrencyBound(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E", "F"}
	plans := map[string]*copiertest.Plan{}
	for _, n := range names {
		plans[n] = &copiertest.Plan{Rows: 300, Delay: 5 * time.Millisecond}
	}
	f := newFixture(t, tables(names...), plans, Options{Concurrency: 2, BatchSize: 100})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	assert.LessOrEqual(t, f.maxRunning, 2)
	assert.LessOrEqual(t, f.cp.MaxInflight(), 2)
	assert.LessOrEqual(t, f.conns.MaxHeld(), 2)
	assert.False(t, f.cp.Overlapped(), "an object must never have two workers")
	assert.Equal(t, 0, f.conns.Held())
	assert.Equal(t, len(names), f.conns.Acquired())
	for _, n := range names {
		require.Equal(t, state.Completed, f.status(n))
	}
}

func TestStart_FailureDoesNotStopSiblings(t *testing.T) {
	plans := rows(300, "A", "C")
	plans["B"] = &copiertest.Plan{Rows: 300, FailAtBatch: 2}
	f := newFixture(t, tables("A", "B", "C"), plans, Options{Concurrency: 1, BatchSize: 100})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	require.Equal(t, state.Completed, f.status("A"))
	require.Equal(t, state.Failed, f.status("B"))
	require.Equal(t, state.Completed, f.status("C"))
	b, _ := f.store.Get("B")
	require.Equal(t, errclass.ConnectionLost, b.Error.Class)
	require.EqualValues(t, 100, b.RecordsTransferred)
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t, tables("A"), rows(10, "A"), Options{})
	require.NoError(t, f.sched.Start(context.Background()))
	require.ErrorIs(t, f.sched.Start(context.Background()), ErrInvalidState)
	f.wait(t)
}

func TestStart_NothingPending(t *testing.T) {
	objs := tables("A")
	f := newFixture(t, objs, nil, Options{})
	_, err := f.store.Restore(state.Item{Name: "A", Status: state.Completed, Attempt: 1, TotalRecords: 300, RecordsTransferred: 300})
	require.NoError(t, err)

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)
	require.Equal(t, 1, f.idleCalls)
	require.Equal(t, 0, f.cp.Attempts("A"))
}

func TestCancel(t *testing.T) {
	gate := make(chan struct{})
	plans := rows(300, "B", "C")
	plans["A"] = &copiertest.Plan{Rows: 300, Gate: gate}
	f := newFixture(t, tables("A", "B", "C"), plans, Options{Concurrency: 1, BatchSize: 100})

	require.NoError(t, f.sched.Start(context.Background()))
	require.Eventually(t, func() bool { return len(f.cp.BatchSizes("A")) == 1 }, time.Second, time.Millisecond)

	f.sched.Cancel()
	require.True(t, f.sched.Cancelled())
	require.Equal(t, state.Cancelled, f.status("B"))
	require.Equal(t, state.Cancelled, f.status("C"))

	close(gate)
	f.wait(t)

	a, _ := f.store.Get("A")
	require.Equal(t, state.Cancelled, a.Status)
	require.EqualValues(t, 100, a.RecordsTransferred, "the batch in flight finishes before the worker stops")

	before := f.store.Snapshot()
	f.sched.Cancel()
	require.Equal(t, before, f.store.Snapshot())

	require.ErrorIs(t, f.sched.Retry("A"), ErrInvalidState)
}

func TestRetry_Isolation(t *testing.T) {
	plans := rows(300, "B")
	plans["A"] = &copiertest.Plan{Rows: 300, FailAtBatch: 1, FailAttempts: 1}
	f := newFixture(t, tables("A", "B"), plans, Options{Concurrency: 2, BatchSize: 100})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)
	require.Equal(t, state.Failed, f.status("A"))
	b, _ := f.store.Get("B")

	require.NoError(t, f.sched.Retry("A"))
	f.wait(t)

	a, _ := f.store.Get("A")
	require.Equal(t, state.Completed, a.Status)
	require.Equal(t, 2, a.Attempt)
	require.Nil(t, a.Error)
	after, _ := f.store.Get("B")
	require.Equal(t, b, after)
	require.Equal(t, 1, f.cp.Attempts("B"))

	require.ErrorIs(t, f.sched.Retry("B"), ErrInvalidState)
	require.ErrorIs(t, f.sched.Retry("missing"), ErrInvalidState)
}

func TestRetry_BeforeStart(t *testing.T) {
	f := newFixture(t, tables("A"), nil, Options{})
	require.ErrorIs(t, f.sched.Retry("A"), ErrInvalidState)
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestAutoRetry_Recovers(t *testing.T) {
	plans := map[string]*copiertest.Plan{"A": {Rows: 300, FailAtBatch: 2, FailAttempts: 2}}
	f := newFixture(t, tables("A"), plans, Options{BatchSize: 100, Retry: fastRetry(3)})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	a, _ := f.store.Get("A")
	require.Equal(t, state.Completed, a.Status)
	require.Equal(t, 3, a.Attempt)
	require.EqualValues(t, 300, a.RecordsTransferred)
	require.Equal(t, 3, f.cp.Attempts("A"))
	require.Equal(t, 1, f.idleCalls, "retries keep the item outstanding")
}

func TestAutoRetry_GivesUpAtMaxAttempts(t *testing.T) {
	plans := map[string]*copiertest.Plan{"A": {Rows: 300, FailAtBatch: 1}}
	f := newFixture(t, tables("A"), plans, Options{BatchSize: 100, Retry: fastRetry(3)})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	a, _ := f.store.Get("A")
	require.Equal(t, state.Failed, a.Status)
	require.Equal(t, 3, a.Attempt)
}

func TestAutoRetry_SkipsNonRetryable(t *testing.T) {
	plans := map[string]*copiertest.Plan{"A": {Rows: 300, SchemaErr: errors.New("bad column")}}
	f := newFixture(t, tables("A"), plans, Options{BatchSize: 100, Retry: fastRetry(3)})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	a, _ := f.store.Get("A")
	require.Equal(t, state.Failed, a.Status)
	require.Equal(t, errclass.SchemaCreation, a.Error.Class)
	require.Equal(t, 1, a.Attempt)
}

func TestAutoRetry_TimeoutHalvesBatch(t *testing.T) {
	timeout := errclass.New(errclass.Timeout, context.DeadlineExceeded)
	plans := map[string]*copiertest.Plan{"A": {Rows: 400, FailAtBatch: 1, FailAttempts: 1, Err: timeout}}
	f := newFixture(t, tables("A"), plans, Options{BatchSize: 200, Retry: fastRetry(2)})

	require.NoError(t, f.sched.Start(context.Background()))
	f.wait(t)

	require.Equal(t, state.Completed, f.status("A"))
	require.Equal(t, []int{200, 100, 100, 100, 100}, f.cp.BatchSizes("A"))
}

func TestCancel_StopsPendingRetry(t *testing.T) {
	plans := map[string]*copiertest.Plan{"A": {Rows: 300, FailAtBatch: 1}}
	opts := Options{BatchSize: 100, Retry: RetryPolicy{MaxAttempts: 3, InitialInterval: time.Hour, MaxInterval: time.Hour}}
	f := newFixture(t, tables("A"), plans, opts)

	require.NoError(t, f.sched.Start(context.Background()))
	require.Eventually(t, func() bool { return f.status("A") == state.Failed }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.sched.Wait(ctx), context.DeadlineExceeded, "a scheduled retry keeps the scheduler busy")

	f.sched.Cancel()
	f.wait(t)
	a, _ := f.store.Get("A")
	require.Equal(t, state.Failed, a.Status)
	require.Equal(t, 1, a.Attempt)
}

func TestRetry_SupersedesScheduledRetry(t *testing.T) {
	plans := map[string]*copiertest.Plan{"A": {Rows: 300, FailAtBatch: 1, FailAttempts: 1}}
	opts := Options{BatchSize: 100, Retry: RetryPolicy{MaxAttempts: 3, InitialInterval: time.Hour, MaxInterval: time.Hour}}
	f := newFixture(t, tables("A"), plans, opts)

	require.NoError(t, f.sched.Start(context.Background()))
	require.Eventually(t, func() bool { return f.status("A") == state.Failed }, time.Second, time.Millisecond)

	require.NoError(t, f.sched.Retry("A"))
	f.wait(t)
	a, _ := f.store.Get("A")
	require.Equal(t, state.Completed, a.Status)
	require.Equal(t, 2, a.Attempt)
}

func TestParentContextCancelsRunningAndQueued(t *testing.T) {
	gate := make(chan struct{})
	plans := rows(300, "B")
	plans["A"] = &copiertest.Plan{Rows: 300, Gate: gate}
	f := newFixture(t, tables("A", "B"), plans, Options{Concurrency: 1, BatchSize: 100})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.sched.Start(ctx))
	require.Eventually(t, func() bool { return f.status("A") == state.InProgress }, time.Second, time.Millisecond)
	cancel()
	f.wait(t)

	require.Equal(t, state.Cancelled, f.status("A"))
	require.Equal(t, state.Cancelled, f.status("B"))
}

// retryOnFailure : retries through the scheduler while the failed run has not returned yet,
// the way an operator reacting to the failure event would
type retryOnFailure struct {
	Runner
	sched *Scheduler
	once  sync.Once
	runs  atomic.Int32
}

func (r *retryOnFailure) Run(ctx context.Context, obj catalog.Object, batchSize int, cancel worker.CancelFlag) state.Item {
	r.runs.Add(1)
	it := r.Runner.Run(ctx, obj, batchSize, cancel)
	if it.Status == state.Failed {
		r.once.Do(func() { _ = r.sched.Retry(obj.Name) })
	}
	return it
}

func TestRetry_WhileFailedRunIsSettling(t *testing.T) {
	objs := tables("A")
	store := state.NewStore(objs)
	cp := copiertest.New(map[string]*copiertest.Plan{"A": {Rows: 300, FailAtBatch: 1, FailAttempts: 2}})
	runner := &retryOnFailure{Runner: worker.New(store, cp.Registry(), &copiertest.Provider{}, worker.Options{}, zerolog.Nop())}
	sched := New(store, runner, objs, Options{BatchSize: 100, Retry: RetryPolicy{MaxAttempts: 10, InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond}}, zerolog.Nop())
	runner.sched = sched

	require.NoError(t, sched.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Wait(ctx))

	a, _ := store.Get("A")
	require.Equal(t, state.Completed, a.Status)
	require.Equal(t, 3, a.Attempt, "operator retry, then one automatic retry")
	require.EqualValues(t, 3, runner.runs.Load())
	require.True(t, sched.Idle())

	// nothing left armed to fire later
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 3, runner.runs.Load())
	require.True(t, sched.Idle())
}
