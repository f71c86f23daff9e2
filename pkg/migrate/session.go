package migrate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/progress"
	"github.com/baderkha/access-transfer/pkg/migrate/scheduler"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

// Session : one run over a selection. Each session has its own store, scheduler and
// cancellation flag.
type Session struct {
	id      string
	objects []catalog.Object
	store   *state.Store
	sched   *scheduler.Scheduler
	stop    context.CancelFunc
	log     zerolog.Logger

	mu        sync.Mutex
	startedAt *time.Time
	endedAt   *time.Time
	subs      map[chan struct{}]struct{}
}

func newSession(id string, objs []catalog.Object, log zerolog.Logger) *Session {
	s := &Session{
		id:      id,
		objects: objs,
		store:   state.NewStore(objs),
		log:     log,
		subs:    map[chan struct{}]struct{}{},
	}
	s.store.OnChange(func(state.Event) { s.notify() })
	return s
}

func (s *Session) begin() {
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()
}

// idled runs under the scheduler lock, it must not call back into the scheduler
func (s *Session) idled() {
	now := time.Now().UTC()
	s.mu.Lock()
	s.endedAt = &now
	s.mu.Unlock()
	s.notify()
}

// Snapshot : a session with a retry still scheduled reports RUNNING even when every item
// currently sits in a terminal state
func (s *Session) Snapshot() Snapshot {
	items := s.store.Snapshot()
	idle := s.sched == nil || s.sched.Idle()
	cancelled := s.sched != nil && s.sched.Cancelled()

	s.mu.Lock()
	started, ended := s.startedAt, s.endedAt
	s.mu.Unlock()

	st := progress.StatusOf(items, started != nil, cancelled)
	if st.Terminal() && !idle {
		st = progress.Running
	}
	if !st.Terminal() {
		ended = nil
	}
	return Snapshot{
		ID:              s.id,
		Status:          st,
		OverallProgress: progress.Overall(items),
		Summary:         progress.Summarize(items),
		Items:           items,
		StartedAt:       started,
		EndedAt:         ended,
	}
}

func (s *Session) subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
