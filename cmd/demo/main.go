// Command demo replays the reference scenario at a compressed time scale:
// one logical second becomes 100ms, and the monitor lingers until every
// diverted process has returned to its ready list.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/agent"
	"github.com/ChuLiYu/dq-sim/internal/simulator"
)

const scale = 100 * time.Millisecond

func main() {
	format := "text"
	if len(os.Args) > 1 {
		format = os.Args[1]
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := simulator.Config{
		Shell: agent.ShellConfig{
			Interval:   5 * scale,
			SleepTicks: 10,
		},
		Monitor:       agent.MonitorConfig{Interval: 10 * scale},
		Linger:        110 * scale,
		Format:        format,
		FinalSnapshot: true,
		ExecLine:      "example command",
	}

	sim, err := simulator.New(cfg, simulator.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: go run ./cmd/demo [text|json]\n%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "✓ Demo started (run_id: %s, 1s = %s)\n", sim.RunID(), scale)
	if err := sim.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}

	stats := sim.Queue().Stats()
	fmt.Fprintf(os.Stderr, "\n📊 Final Status:\n")
	fmt.Fprintf(os.Stderr, "  Foreground: %d\n", stats["foreground"])
	fmt.Fprintf(os.Stderr, "  Background: %d\n", stats["background"])
	fmt.Fprintf(os.Stderr, "  Waiting:    %d\n", stats["waiting"])
	fmt.Fprintf(os.Stderr, "  ─────────────────\n")
	fmt.Fprintf(os.Stderr, "  Total:      %d\n", stats["processes"])
}
