package agent

import (
	"context"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/dynqueue"
)

// MonitorConfig configures the monitor agent.
type MonitorConfig struct {
	Interval time.Duration // delay before each tick
}

// Monitor advances the wait-queue clock by one logical tick per interval
// and prints a snapshot after each tick.
type Monitor struct {
	queue  *dynqueue.DynamicQueue
	config MonitorConfig
	opts   options
}

// NewMonitor creates a monitor agent observing q.
func NewMonitor(q *dynqueue.DynamicQueue, config MonitorConfig, opts ...Option) *Monitor {
	return &Monitor{
		queue:  q,
		config: config,
		opts:   newOptions(opts),
	}
}

// Name implements Agent.
func (m *Monitor) Name() string { return "monitor" }

// Run ticks until ctx is cancelled, then returns nil.
func (m *Monitor) Run(ctx context.Context) error {
	log := m.opts.logger.With("agent", m.Name())
	ticks := 0

	for {
		if ctx.Err() != nil {
			log.Info("Monitor stopped", "ticks", ticks)
			return nil
		}
		if err := m.opts.pacer.Wait(ctx, m.config.Interval); err != nil {
			log.Info("Monitor stopped", "ticks", ticks)
			return nil
		}

		woken := m.queue.TickWake()
		ticks++
		m.opts.recorder.RecordTick(len(woken))
		if len(woken) > 0 {
			log.Debug("Processes woken", "tick", ticks, "pids", woken)
		}

		m.opts.printSnapshot(m.queue, m.Name())
	}
}
