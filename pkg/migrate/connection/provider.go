package connection

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Provider : scoped access to target connections. Every Acquire must be paired with a Release.
type Provider interface {
	Acquire(ctx context.Context) (*sql.Conn, error)
	Release(conn *sql.Conn)
}

// Pool : a Provider over a *sql.DB that never lets more than size connections out at once
type Pool struct {
	db  *sql.DB
	sem *semaphore.Weighted

	mu   sync.Mutex
	held int
}

// NewPool : size bounds concurrent target usage and should match the scheduler's concurrency
func NewPool(db *sql.DB, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{db: db, sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a target connection : %w", err)
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("acquiring target connection : %w", err)
	}
	p.mu.Lock()
	p.held++
	p.mu.Unlock()
	return conn, nil
}

func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close()
	p.mu.Lock()
	p.held--
	p.mu.Unlock()
	p.sem.Release(1)
}

// Held : connections currently acquired
func (p *Pool) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}
