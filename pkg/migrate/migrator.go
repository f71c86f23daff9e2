package migrate

import (
	"context"
	"errors"
	"time"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/progress"
	"github.com/baderkha/access-transfer/pkg/migrate/scheduler"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

var (
	// ErrInvalidSelection : empty, duplicated or unknown object names
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrInvalidState : the request is not allowed in the session's current state
	ErrInvalidState = scheduler.ErrInvalidState
	// ErrSessionNotFound : unknown or already ended session id
	ErrSessionNotFound = errors.New("session not found")
)

// Runner : runs transfer sessions between a source catalog and a target
type Runner interface {
	Objects(ctx context.Context) ([]catalog.Object, error)
	StartSession(ctx context.Context, selection []string, opts ...SessionOption) (string, error)
	CancelSession(id string) error
	RetryItem(id string, name string) error
	GetSnapshot(id string) (Snapshot, error)
	Subscribe(id string) (<-chan struct{}, func(), error)
	Wait(ctx context.Context, id string) error
	EndSession(ctx context.Context, id string) error
}

// Snapshot : point in time view of a session
type Snapshot struct {
	ID              string                 `json:"id"`
	Status          progress.SessionStatus `json:"status"`
	OverallProgress float64                `json:"overall_progress"`
	Summary         progress.Summary       `json:"summary"`
	Items           []state.Item           `json:"items"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	EndedAt         *time.Time             `json:"ended_at,omitempty"`
}

// Item : the named item in the snapshot
func (s Snapshot) Item(name string) (state.Item, bool) {
	for _, it := range s.Items {
		if it.Name == name {
			return it, true
		}
	}
	return state.Item{}, false
}

// Archiver : persists the final snapshot of a session
type Archiver interface {
	Archive(ctx context.Context, snap Snapshot) error
}

// Reporter : observes every item change of every session
type Reporter func(sessionID string, e state.Event)
