// package migrate
//
// transfer engine : turns a selection of source objects into a session of independently
// tracked items and runs them against the target
package migrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/connection"
	"github.com/baderkha/access-transfer/pkg/migrate/copier"
	"github.com/baderkha/access-transfer/pkg/migrate/scheduler"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
	"github.com/baderkha/access-transfer/pkg/migrate/worker"
)

type Options struct {
	// Concurrency is K, it should match the size of the connection provider
	Concurrency  int
	BatchSize    int
	BatchTimeout time.Duration
	Retry        scheduler.RetryPolicy
}

type EngineOption func(e *Engine)

func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

// WithArchiver : snapshots are archived when a session ends
func WithArchiver(a Archiver) EngineOption {
	return func(e *Engine) {
		e.archiver = a
	}
}

func WithReporter(r Reporter) EngineOption {
	return func(e *Engine) {
		e.reporters = append(e.reporters, r)
	}
}

// SessionOption : per session settings
type SessionOption func(c *sessionConfig)

type sessionConfig struct {
	resume map[string]state.Item
}

// WithResume : items that completed in a previous run stay completed, everything else
// runs again
func WithResume(prev map[string]state.Item) SessionOption {
	return func(c *sessionConfig) {
		c.resume = prev
	}
}

// Engine : owns the sessions. Sessions share the connection provider so only one runs at a time.
type Engine struct {
	catalog   catalog.Client
	copiers   copier.Registry
	conns     connection.Provider
	opts      Options
	log       zerolog.Logger
	archiver  Archiver
	reporters []Reporter

	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Runner = (*Engine)(nil)

func NewEngine(cat catalog.Client, copiers copier.Registry, conns connection.Provider, opts Options, eopts ...EngineOption) *Engine {
	e := &Engine{
		catalog:  cat,
		copiers:  copiers,
		conns:    conns,
		opts:     opts,
		log:      zerolog.Nop(),
		sessions: map[string]*Session{},
	}
	for _, o := range eopts {
		o(e)
	}
	e.reporters = append([]Reporter{logReporter(e.log)}, e.reporters...)
	return e
}

// Objects : everything the source catalog offers
func (e *Engine) Objects(ctx context.Context) ([]catalog.Object, error) {
	return e.catalog.ListObjects(ctx)
}

// StartSession : validates the selection against the catalog and starts transferring it.
// The session outlives ctx, only its values are kept.
func (e *Engine) StartSession(ctx context.Context, selection []string, opts ...SessionOption) (string, error) {
	var cfg sessionConfig
	for _, o := range opts {
		o(&cfg)
	}
	if err := validateSelection(selection); err != nil {
		return "", err
	}
	listed, err := e.catalog.ListObjects(ctx)
	if err != nil {
		return "", err
	}
	objs, err := resolve(selection, catalog.Index(listed))
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		if !s.sched.Idle() {
			return "", fmt.Errorf("%w : session %s is still running", ErrInvalidState, id)
		}
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	id := uid.String()
	log := e.log.With().Str("session", id).Logger()
	s := newSession(id, objs, log)
	for _, r := range e.reporters {
		r := r
		s.store.OnChange(func(ev state.Event) { r(id, ev) })
	}
	for name, prev := range cfg.resume {
		prev.Name = name
		if _, err := s.store.Restore(prev); err != nil {
			log.Debug().Err(err).Str("object", name).Msg("not restored")
		}
	}

	w := worker.New(s.store, e.copiers, e.conns, worker.Options{BatchTimeout: e.opts.BatchTimeout}, log)
	s.sched = scheduler.New(s.store, w, objs, scheduler.Options{
		Concurrency: e.opts.Concurrency,
		BatchSize:   e.opts.BatchSize,
		Retry:       e.opts.Retry,
		OnIdle:      s.idled,
	}, log)

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = stop
	s.begin()
	if err := s.sched.Start(runCtx); err != nil {
		stop()
		return "", err
	}
	e.sessions[id] = s
	log.Info().Int("objects", len(objs)).Strs("selection", selection).Msg("session started")
	return id, nil
}

func validateSelection(selection []string) error {
	if len(selection) == 0 {
		return fmt.Errorf("%w : nothing selected", ErrInvalidSelection)
	}
	var errs error
	if lo.Contains(lo.Map(selection, func(n string, _ int) string { return strings.TrimSpace(n) }), "") {
		errs = multierror.Append(errs, fmt.Errorf("%w : blank object name", ErrInvalidSelection))
	}
	for _, dup := range lo.FindDuplicates(selection) {
		errs = multierror.Append(errs, fmt.Errorf("%w : %s selected more than once", ErrInvalidSelection, dup))
	}
	return errs
}

func resolve(selection []string, index map[string]catalog.Object) ([]catalog.Object, error) {
	var (
		errs error
		objs = make([]catalog.Object, 0, len(selection))
	)
	for _, name := range selection {
		obj, ok := index[name]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%w : %s is not in the source catalog", ErrInvalidSelection, name))
			continue
		}
		objs = append(objs, obj)
	}
	if errs != nil {
		return nil, errs
	}
	return objs, nil
}

func (e *Engine) session(id string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w : %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// CancelSession : idempotent
func (e *Engine) CancelSession(id string) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	s.sched.Cancel()
	return nil
}

// RetryItem : only a FAILED item of a session that was not cancelled can be retried
func (e *Engine) RetryItem(id string, name string) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	return s.sched.Retry(name)
}

func (e *Engine) GetSnapshot(id string) (Snapshot, error) {
	s, err := e.session(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Subscribe : the channel receives a value after item changes, coalesced, so a slow reader
// only ever sees the latest state. Call the returned func to stop.
func (e *Engine) Subscribe(id string) (<-chan struct{}, func(), error) {
	s, err := e.session(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.subscribe()
	return ch, cancel, nil
}

// Wait : blocks until the session has nothing left to run
func (e *Engine) Wait(ctx context.Context, id string) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	return s.sched.Wait(ctx)
}

// EndSession : cancels whatever is left, waits for the workers, archives the final snapshot
// and forgets the session
func (e *Engine) EndSession(ctx context.Context, id string) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	s.sched.Cancel()
	if err := s.sched.Wait(ctx); err != nil {
		s.stop()
		return fmt.Errorf("waiting on session %s : %w", id, err)
	}
	s.stop()

	snap := s.Snapshot()
	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, snap); err != nil {
			return fmt.Errorf("archiving session %s : %w", id, err)
		}
	}
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	s.closeSubscribers()
	e.log.Info().Str("session", id).Str("status", string(snap.Status)).Msg("session ended")
	return nil
}
