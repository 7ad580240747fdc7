package agent

import (
	"io"
	"log/slog"
	"os"

	"github.com/ChuLiYu/dq-sim/internal/clock"
	"github.com/ChuLiYu/dq-sim/internal/dynqueue"
	"github.com/ChuLiYu/dq-sim/internal/snapshot"
)

// Recorder receives agent activity, typically a *metrics.Collector.
type Recorder interface {
	RecordEnqueue()
	RecordSleep()
	RecordTick(woken int)
	RecordSnapshot()
	UpdateQueueStats(stats map[string]int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEnqueue()                  {}
func (nopRecorder) RecordSleep()                    {}
func (nopRecorder) RecordTick(int)                  {}
func (nopRecorder) RecordSnapshot()                 {}
func (nopRecorder) UpdateQueueStats(map[string]int) {}

// Option customises an agent.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	pacer    clock.Pacer
	sink     io.Writer
	renderer snapshot.Renderer
	recorder Recorder
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		pacer:    clock.Wall{},
		sink:     os.Stdout,
		renderer: snapshot.Text,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPacer sets the pacer used between iterations (clock.Wall by default).
func WithPacer(p clock.Pacer) Option {
	return func(o *options) {
		if p != nil {
			o.pacer = p
		}
	}
}

// WithSink sets where snapshots are written (stdout by default).
func WithSink(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.sink = w
		}
	}
}

// WithRenderer sets the snapshot format (snapshot.Text by default).
func WithRenderer(r snapshot.Renderer) Option {
	return func(o *options) {
		if r != nil {
			o.renderer = r
		}
	}
}

// WithRecorder sets the activity recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// printSnapshot renders the queue to the sink and refreshes the gauges.
// A failed write is logged and otherwise ignored.
func (o *options) printSnapshot(q *dynqueue.DynamicQueue, agent string) {
	if err := q.Render(o.sink, o.renderer); err != nil {
		o.logger.Error("Failed to print snapshot", "agent", agent, "error", err)
		return
	}
	o.recorder.RecordSnapshot()
	o.recorder.UpdateQueueStats(q.Stats())
}
