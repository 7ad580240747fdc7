// Package clock abstracts the time source and the wall-clock delays the
// agents suspend on, so scenarios can be driven step by step in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Pacer suspends the calling agent between iterations.
type Pacer interface {
	// Wait blocks for d or until ctx is done, in which case ctx.Err() is returned.
	Wait(ctx context.Context, d time.Duration) error
}

// Wall is a Pacer backed by real timers.
type Wall struct{}

// Wait implements Pacer.
func (Wall) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Manual is a Pacer whose waits only return when the test calls Step.
// Each Step releases exactly one Wait, whether it is already blocked or
// arrives later.
type Manual struct {
	mu        sync.Mutex
	steps     chan struct{}
	durations []time.Duration
	waiting   chan struct{}
}

// NewManual creates a Manual pacer.
func NewManual() *Manual {
	return &Manual{
		steps:   make(chan struct{}, 1024),
		waiting: make(chan struct{}, 1024),
	}
}

// Wait implements Pacer.
func (m *Manual) Wait(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	m.durations = append(m.durations, d)
	m.mu.Unlock()

	select {
	case m.waiting <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.steps:
		return nil
	}
}

// Step releases one Wait.
func (m *Manual) Step() {
	m.steps <- struct{}{}
}

// AwaitWaiter blocks until some agent has entered Wait, or ctx is done.
// Pair it with Step to advance an agent exactly one iteration at a time.
func (m *Manual) AwaitWaiter(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.waiting:
		return nil
	}
}

// Durations returns the delays requested so far, in call order.
func (m *Manual) Durations() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.durations))
	copy(out, m.durations)
	return out
}

// Waits reports how many times Wait has been called.
func (m *Manual) Waits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.durations)
}
