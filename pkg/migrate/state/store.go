// package state
//
// in memory, authoritative table of transfer items. every write is a compare and set
// against the item's current status so terminal items can't be resurrected by a late event
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
)

var (
	// ErrUnknownItem : no item with that name in the store
	ErrUnknownItem = errors.New("unknown item")
	// ErrTransition : the item is not in a status that allows the transition
	ErrTransition = errors.New("transition not allowed")
	// ErrProgressRegressed : progress updates must never go backwards
	ErrProgressRegressed = errors.New("progress went backwards")
)

// Listener : called synchronously, in mutation order, for every accepted change.
// Listeners must not block and must not call back into the store.
type Listener func(Event)

// Store : the transfer item table
type Store struct {
	mu        sync.Mutex
	order     []string
	items     map[string]*Item
	seq       uint64
	listeners []Listener
	now       func() time.Time
}

// NewStore : creates PENDING items for objects, keeping their order. Totals start at the
// catalog estimate so pending items already carry their weight.
func NewStore(objs []catalog.Object) *Store {
	s := &Store{
		items: make(map[string]*Item, len(objs)),
		now:   time.Now,
	}
	for _, o := range objs {
		s.order = append(s.order, o.Name)
		s.items[o.Name] = &Item{
			Name:         o.Name,
			Kind:         o.Kind,
			Status:       Pending,
			TotalRecords: expectedTotal(o),
			Attempt:      1,
		}
	}
	return s
}

// OnChange : registers a listener
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Get : copy of one item
func (s *Store) Get(name string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[name]
	if !ok {
		return Item{}, false
	}
	return clone(it), true
}

// Snapshot : point in time copy of every item in selection order
func (s *Store) Snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, clone(s.items[n]))
	}
	return out
}

// Names : item names in selection order
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Begin : PENDING -> IN_PROGRESS, fixing the total for this attempt
func (s *Store) Begin(name string, totalRecords int64) (Item, error) {
	return s.mutate(name, func(it *Item) error {
		if it.Status != Pending {
			return transitionErr(it, InProgress)
		}
		if totalRecords < 0 {
			totalRecords = 0
		}
		now := s.now()
		it.Status = InProgress
		it.TotalRecords = totalRecords
		it.RecordsTransferred = 0
		it.ProgressPercent = 0
		it.StartedAt = &now
		it.FinishedAt = nil
		return nil
	})
}

// Progress : records committed so far. The percentage is floor(100*done/total) but held at 99
// until Complete so that 100 always means the copy is done.
func (s *Store) Progress(name string, recordsTransferred int64) (Item, error) {
	return s.mutate(name, func(it *Item) error {
		if it.Status != InProgress {
			return transitionErr(it, InProgress)
		}
		if recordsTransferred > it.TotalRecords {
			recordsTransferred = it.TotalRecords
		}
		if recordsTransferred < it.RecordsTransferred {
			return fmt.Errorf("%s : %w (%d < %d)", name, ErrProgressRegressed, recordsTransferred, it.RecordsTransferred)
		}
		p := percent(recordsTransferred, it.TotalRecords)
		if p > 99 {
			p = 99
		}
		if p < it.ProgressPercent {
			p = it.ProgressPercent
		}
		it.RecordsTransferred = recordsTransferred
		it.ProgressPercent = p
		return nil
	})
}

// Complete : IN_PROGRESS -> COMPLETED
func (s *Store) Complete(name string) (Item, error) {
	return s.mutate(name, func(it *Item) error {
		if it.Status != InProgress {
			return transitionErr(it, Completed)
		}
		it.finish(s.now(), Completed)
		it.RecordsTransferred = it.TotalRecords
		it.ProgressPercent = 100
		return nil
	})
}

// Fail : IN_PROGRESS -> FAILED, progress stays at the last committed batch
func (s *Store) Fail(name string, cause *errclass.Error) (Item, error) {
	return s.mutate(name, func(it *Item) error {
		if it.Status != InProgress {
			return transitionErr(it, Failed)
		}
		if cause == nil {
			cause = errclass.New(errclass.Unclassified, nil)
		}
		it.finish(s.now(), Failed)
		it.Error = cause
		return nil
	})
}

// Cancel : PENDING or IN_PROGRESS -> CANCELLED
func (s *Store) Cancel(name string) (Item, error) {
	return s.mutate(name, func(it *Item) error {
		if it.Status != Pending && it.Status != InProgress {
			return transitionErr(it, Cancelled)
		}
		it.finish(s.now(), Cancelled)
		return nil
	})
}

// Retry : FAILED -> PENDING, bumps the attempt counter and clears the previous run
func (s *Store) Retry(name string) (Item, error) {
	return s.mutate(name, func(it *Item) error {
		if it.Status != Failed {
			return transitionErr(it, Pending)
		}
		it.Status = Pending
		it.Attempt++
		it.Error = nil
		it.ProgressPercent = 0
		it.RecordsTransferred = 0
		it.StartedAt = nil
		it.FinishedAt = nil
		return nil
	})
}

// Restore : seeds a PENDING item from a previously saved COMPLETED item so a resumed
// session does not copy it again. Anything else stays PENDING.
func (s *Store) Restore(prev Item) (Item, error) {
	return s.mutate(prev.Name, func(it *Item) error {
		if it.Status != Pending {
			return transitionErr(it, prev.Status)
		}
		if prev.Attempt > it.Attempt {
			it.Attempt = prev.Attempt
		}
		if prev.Status != Completed {
			return nil
		}
		it.Status = Completed
		it.TotalRecords = prev.TotalRecords
		it.RecordsTransferred = prev.TotalRecords
		it.ProgressPercent = 100
		it.StartedAt = prev.StartedAt
		it.FinishedAt = prev.FinishedAt
		return nil
	})
}

func (s *Store) mutate(name string, fn func(it *Item) error) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[name]
	if !ok {
		return Item{}, fmt.Errorf("%w : %s", ErrUnknownItem, name)
	}
	prev := it.Status
	if err := fn(it); err != nil {
		return clone(it), err
	}
	s.seq++
	ev := Event{Seq: s.seq, Prev: prev, Item: clone(it), At: s.now()}
	for _, l := range s.listeners {
		l(ev)
	}
	return ev.Item, nil
}

func (it *Item) finish(at time.Time, st Status) {
	it.Status = st
	it.FinishedAt = &at
}

func transitionErr(it *Item, to Status) error {
	return fmt.Errorf("%s : %w %s -> %s", it.Name, ErrTransition, it.Status, to)
}

func clone(it *Item) Item {
	c := *it
	if it.Error != nil {
		e := *it.Error
		c.Error = &e
	}
	if it.StartedAt != nil {
		t := *it.StartedAt
		c.StartedAt = &t
	}
	if it.FinishedAt != nil {
		t := *it.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
