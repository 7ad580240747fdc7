// ============================================================================
// dq-sim Agent Group - goroutine lifecycle for long-running agents
// ============================================================================
//
// Package: internal/agent
// File: group.go
// Function: Runs agents on their own goroutines and stops them cooperatively
//
// How it works:
//   ┌──────────────────────────────────────┐
//   │  Group (errgroup + shared context)   │
//   │   ├─ Go(shell)   → goroutine         │
//   │   ├─ Go(monitor) → goroutine         │
//   │   ├─ Stop()      → cancel context    │
//   │   └─ Wait()      → join all agents   │
//   └──────────────────────────────────────┘
//
// Every agent checks its context before each suspension, so Stop() followed
// by Wait() always returns once the agents reach their next check point.
// A panicking agent is converted into an error and cancels its siblings.
//
// ============================================================================

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrGroupStopped is returned when an agent is started on a stopped group.
var ErrGroupStopped = errors.New("agent group is stopped")

// Agent is a long-running worker that mutates or observes the queue.
type Agent interface {
	Name() string
	Run(ctx context.Context) error
}

// Group manages the lifecycle of a set of agents.
type Group struct {
	mu      sync.Mutex
	eg      *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	names   []string
	stopped bool
	logger  *slog.Logger
}

// NewGroup creates a group whose agents stop when parent is cancelled or Stop is called.
func NewGroup(parent context.Context, logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{
		eg:     eg,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Go starts a on its own goroutine. Agents added after Stop are rejected.
func (g *Group) Go(a Agent) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return ErrGroupStopped
	}

	name := a.Name()
	g.names = append(g.names, name)
	ctx := g.ctx

	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("agent %s panicked: %v", name, r)
			}
		}()

		g.logger.Debug("Agent started", "agent", name)
		if err := a.Run(ctx); err != nil {
			g.logger.Error("Agent failed", "agent", name, "error", err)
			return fmt.Errorf("agent %s: %w", name, err)
		}
		g.logger.Debug("Agent stopped", "agent", name)
		return nil
	})
	return nil
}

// Stop asks every agent to return at its next check point. It does not wait.
func (g *Group) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	g.cancel()
}

// Wait blocks until every agent has returned and reports the first failure.
func (g *Group) Wait() error {
	err := g.eg.Wait()
	g.cancel()
	return err
}

// Names returns the agents started so far.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}
