// package copiertest
//
// scripted copier and connection provider for driving the engine without a database
package copiertest

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/copier"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
)

// ErrConnectionLost : default injected failure
var ErrConnectionLost = errclass.New(errclass.ConnectionLost, errors.New("connection reset by peer"))

// Plan : how one object behaves when copied
type Plan struct {
	// Rows the source really holds, independent of the catalog estimate
	Rows int64
	// FailAtBatch makes the n-th batch (1 based) of an attempt return Err
	FailAtBatch int
	// FailAttempts limits the injected batch failure to the first n attempts, 0 means every attempt
	FailAttempts int
	Err          error
	SchemaErr    error
	FinalizeErr  error
	// Delay per batch, honouring ctx
	Delay time.Duration
	// Gate, when set, makes every batch wait for a receive
	Gate chan struct{}
}

// Scripted : a copier.Copier and copier.RowCounter driven by plans
type Scripted struct {
	mu          sync.Mutex
	plans       map[string]*Plan
	attempts    map[string]int
	batchSizes  map[string][]int
	opened      int
	closed      int
	inflight    int
	maxInflight int
	running     map[string]int
	overlap     bool
}

// New : plans keyed by object name, objects without a plan copy zero rows
func New(plans map[string]*Plan) *Scripted {
	if plans == nil {
		plans = map[string]*Plan{}
	}
	return &Scripted{
		plans:      plans,
		attempts:   map[string]int{},
		batchSizes: map[string][]int{},
		running:    map[string]int{},
	}
}

// Registry : the scripted copier registered for every kind
func (s *Scripted) Registry() copier.Registry {
	return copier.Registry{
		catalog.KindTable:     s,
		catalog.KindQuery:     s,
		catalog.KindProcedure: s,
	}
}

type cursor struct {
	s      *Scripted
	offset int64
	batch  int
	once   sync.Once
}

func (c *cursor) Close() error {
	c.once.Do(func() {
		c.s.mu.Lock()
		c.s.closed++
		c.s.mu.Unlock()
	})
	return nil
}

func (s *Scripted) plan(name string) *Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[name]
	if !ok {
		p = &Plan{}
		s.plans[name] = p
	}
	return p
}

func (s *Scripted) CountRows(_ context.Context, obj catalog.Object) (int64, error) {
	return s.plan(obj.Name).Rows, nil
}

func (s *Scripted) CreateSchema(ctx context.Context, obj catalog.Object, _ *sql.Conn) error {
	p := s.plan(obj.Name)
	s.mu.Lock()
	s.attempts[obj.Name]++
	s.mu.Unlock()
	if p.SchemaErr != nil {
		return p.SchemaErr
	}
	return ctx.Err()
}

func (s *Scripted) Finalize(ctx context.Context, obj catalog.Object, _ *sql.Conn) error {
	if p := s.plan(obj.Name); p.FinalizeErr != nil {
		return p.FinalizeErr
	}
	return ctx.Err()
}

func (s *Scripted) CopyBatch(ctx context.Context, obj catalog.Object, cur copier.Cursor, batchSize int, _ *sql.Conn) (copier.Batch, error) {
	p := s.plan(obj.Name)
	s.enter(obj.Name, batchSize)
	defer s.leave(obj.Name)

	if !obj.Kind.RowBearing() {
		if err := s.wait(ctx, p); err != nil {
			return copier.Batch{}, err
		}
		if s.shouldFail(obj.Name, p, 1) {
			return copier.Batch{}, p.failure()
		}
		return copier.Batch{Rows: 1, Final: true}, nil
	}

	c, _ := cur.(*cursor)
	if c == nil {
		c = &cursor{s: s}
		s.mu.Lock()
		s.opened++
		s.mu.Unlock()
	}
	c.batch++
	if err := s.wait(ctx, p); err != nil {
		return copier.Batch{Next: c}, err
	}
	if s.shouldFail(obj.Name, p, c.batch) {
		return copier.Batch{Next: c}, p.failure()
	}
	n := p.Rows - c.offset
	if n > int64(batchSize) {
		n = int64(batchSize)
	}
	c.offset += n
	return copier.Batch{Rows: n, Next: c, Final: c.offset >= p.Rows}, nil
}

func (p *Plan) failure() error {
	if p.Err != nil {
		return p.Err
	}
	return ErrConnectionLost
}

func (s *Scripted) shouldFail(name string, p *Plan, batch int) bool {
	if p.FailAtBatch == 0 || batch != p.FailAtBatch {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.FailAttempts == 0 || s.attempts[name] <= p.FailAttempts
}

func (s *Scripted) wait(ctx context.Context, p *Plan) error {
	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scripted) enter(name string, batchSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchSizes[name] = append(s.batchSizes[name], batchSize)
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	s.running[name]++
	if s.running[name] > 1 {
		s.overlap = true
	}
}

func (s *Scripted) leave(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	s.running[name]--
}

// Attempts : how many times CreateSchema ran for name
func (s *Scripted) Attempts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[name]
}

// BatchSizes : the batch size passed to every CopyBatch call for name
func (s *Scripted) BatchSizes(name string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batchSizes[name]...)
}

// Cursors : cursors opened and closed so far
func (s *Scripted) Cursors() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

// MaxInflight : the most CopyBatch calls that ever ran at once
func (s *Scripted) MaxInflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

// Overlapped : true if two batches for the same object ever ran at once
func (s *Scripted) Overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

// Provider : a connection.Provider that hands out nil connections and tracks usage
type Provider struct {
	mu      sync.Mutex
	held    int
	maxHeld int
	total   int
	Err     error
}

func (p *Provider) Acquire(ctx context.Context) (*sql.Conn, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held++
	p.total++
	if p.held > p.maxHeld {
		p.maxHeld = p.held
	}
	return nil, nil
}

func (p *Provider) Release(*sql.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held--
}

// Held : connections currently out
func (p *Provider) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// MaxHeld : most connections out at once
func (p *Provider) MaxHeld() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxHeld
}

// Acquired : total acquisitions
func (p *Provider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
