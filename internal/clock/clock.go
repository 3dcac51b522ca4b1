// Package clock abstracts time so the cycle drivers can be tested with a
// manually advanced clock. Every sleep and tick in the system goes through
// this interface.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock provides the time operations the drivers need.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
	// Tick invokes fn at fixed intervals until ctx is cancelled. With
	// immediate set, the first invocation happens before the first wait.
	// Invocations never overlap; a slow fn delays the following tick.
	Tick(ctx context.Context, d time.Duration, immediate bool, fn func(context.Context)) error
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c Real) Tick(ctx context.Context, d time.Duration, immediate bool, fn func(context.Context)) error {
	if immediate {
		fn(ctx)
	}
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Manual is a test clock advanced explicitly with Advance. Sleeps return
// once the clock has moved past their deadline.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
	blocked []blocker
}

type blocker struct {
	count int
	ch    chan struct{}
}

type waiter struct {
	deadline time.Time
	ch       chan struct{}
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and releases every waiter whose deadline
// has passed.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var remaining []waiter
	var fire []waiter
	for _, w := range m.waiters {
		if !w.deadline.After(m.now) {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()

	for _, w := range fire {
		close(w.ch)
	}
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	m.mu.Lock()
	w := waiter{deadline: m.now.Add(d), ch: make(chan struct{})}
	m.waiters = append(m.waiters, w)
	m.notifyBlockers()
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// BlockUntil returns once at least n goroutines are blocked in Sleep on
// this clock. Tests use it to sequence Advance calls safely.
func (m *Manual) BlockUntil(n int) {
	m.mu.Lock()
	if len(m.waiters) >= n {
		m.mu.Unlock()
		return
	}
	b := blocker{count: n, ch: make(chan struct{})}
	m.blocked = append(m.blocked, b)
	m.mu.Unlock()
	<-b.ch
}

// notifyBlockers must be called with mu held.
func (m *Manual) notifyBlockers() {
	var remaining []blocker
	for _, b := range m.blocked {
		if len(m.waiters) >= b.count {
			close(b.ch)
		} else {
			remaining = append(remaining, b)
		}
	}
	m.blocked = remaining
}

func (m *Manual) Tick(ctx context.Context, d time.Duration, immediate bool, fn func(context.Context)) error {
	if immediate {
		fn(ctx)
	}
	for {
		if err := m.Sleep(ctx, d); err != nil {
			return err
		}
		fn(ctx)
	}
}
