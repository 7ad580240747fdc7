// ============================================================================
// dq-sim CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the dynamic queue simulator
//
// Command Structure:
//   dqsim                          # Root command (same as "run")
//   ├── run                        # Run one simulation
//   ├── status                     # Show the effective configuration
//   ├── exec [words...]            # Tokenize and echo a command
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   ├── --shell-interval           # Override shell.interval
//   ├── --monitor-interval         # Override monitor.interval
//   ├── --linger                   # Override monitor.linger
//   ├── --format                   # Override output.format (text|json)
//   └── --version                  # Display version information
//
// Configuration Management:
//   YAML config file layered over DefaultConfig(). A missing default file
//   falls back to the built-in values; a missing explicit --config is an error.
//
// Output:
//   Snapshots and command echoes go to stdout, logs go to stderr.
//
// Signal Handling:
//   run captures SIGINT and SIGTERM and stops both agents cooperatively.
//
// Metrics Service:
//   If metrics.enabled, /metrics is served on metrics.port for the duration
//   of the run.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/agent"
	"github.com/ChuLiYu/dq-sim/internal/command"
	"github.com/ChuLiYu/dq-sim/internal/metrics"
	"github.com/ChuLiYu/dq-sim/internal/simulator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version is reported by --version.
var Version = "1.0.0"

type rootOptions struct {
	configFile      string
	shellInterval   time.Duration
	monitorInterval time.Duration
	linger          time.Duration
	format          string
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "dqsim",
		Short: "dqsim: a dynamic multilevel queue scheduler simulator",
		Long: `dqsim simulates a two-class ready queue with a timed wait queue:
- a shell agent spawns foreground and background processes
- a monitor agent ticks the wait queue and re-admits expired sleepers
- every step prints a snapshot of the three lists`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", DefaultConfigPath, "config file path")
	flags.DurationVar(&opts.shellInterval, "shell-interval", 0, "delay between shell spawns (overrides shell.interval)")
	flags.DurationVar(&opts.monitorInterval, "monitor-interval", 0, "delay between monitor ticks (overrides monitor.interval)")
	flags.DurationVar(&opts.linger, "linger", 0, "how long the monitor keeps ticking after the shell finishes (overrides monitor.linger)")
	flags.StringVar(&opts.format, "format", "", "snapshot format: text or json (overrides output.format)")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildExecCommand(opts))

	return rootCmd
}

func buildRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start one simulation",
		Long:  "Bootstrap the queue, run the shell catalogue with the monitor ticking alongside, then shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, opts)
		},
	}
}

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration status",
		Long:  "Display the effective configuration after defaults, file and flags are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			showStatus(cmd.OutOrStdout(), opts.configFile, cfg)
			return nil
		},
	}
}

func buildExecCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [words...]",
		Short: "Echo a command the way the shell executes it",
		Long:  "Tokenize the arguments and echo them. Without arguments the configured output.exec line is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return command.Exec(cmd.OutOrStdout(), command.Parse(strings.Join(args, " ")))
			}
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return command.Run(cmd.OutOrStdout(), cfg.Output.Exec)
		},
	}
}

// resolveConfig layers defaults, the config file and flag overrides, then validates.
func resolveConfig(cmd *cobra.Command, opts *rootOptions) (*Config, error) {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		defaults := DefaultConfig()
		cfg = &defaults
	}

	flags := cmd.Flags()
	if flags.Changed("shell-interval") {
		cfg.Shell.Interval = opts.shellInterval
	}
	if flags.Changed("monitor-interval") {
		cfg.Monitor.Interval = opts.monitorInterval
	}
	if flags.Changed("linger") {
		cfg.Monitor.Linger = opts.linger
	}
	if flags.Changed("format") {
		cfg.Output.Format = opts.format
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	simOpts := []simulator.Option{
		simulator.WithLogger(logger),
		simulator.WithOutput(cmd.OutOrStdout()),
	}

	// Start Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		simOpts = append(simOpts, simulator.WithRecorder(metrics.NewCollector(reg)))

		// Stopped and joined before runSimulation returns.
		serverCtx, cancelServer := context.WithCancel(ctx)
		var servers errgroup.Group
		servers.Go(func() error {
			logger.Info("Starting metrics server", "port", cfg.Metrics.Port)
			return metrics.StartServer(serverCtx, cfg.Metrics.Port, reg)
		})
		defer func() {
			cancelServer()
			if err := servers.Wait(); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	sim, err := simulator.New(cfg.simulatorConfig(), simOpts...)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	if err := sim.Run(ctx); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	return nil
}

func showStatus(w io.Writer, configFile string, cfg *Config) {
	fmt.Fprintln(w, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           dqsim Configuration Status                      ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📋 Configuration:")
	fmt.Fprintf(w, "  └─ Config File:     %s\n", configFile)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "🐚 Shell:")
	fmt.Fprintf(w, "  ├─ Interval:        %s\n", cfg.Shell.Interval)
	fmt.Fprintf(w, "  ├─ Sleep Ticks:     %d\n", agent.NewShell(nil, cfg.simulatorConfig().Shell).SleepTicks())
	fmt.Fprintf(w, "  └─ Commands:        %s\n", strings.Join(cfg.Shell.Commands, ", "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "⏱  Monitor:")
	fmt.Fprintf(w, "  ├─ Interval:        %s\n", cfg.Monitor.Interval)
	fmt.Fprintf(w, "  └─ Linger:          %s\n", cfg.Monitor.Linger)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "🖨  Output:")
	fmt.Fprintf(w, "  ├─ Format:          %s\n", cfg.Output.Format)
	fmt.Fprintf(w, "  ├─ Final Snapshot:  %t\n", cfg.Output.FinalSnapshot)
	fmt.Fprintf(w, "  └─ Exec:            %q\n", cfg.Output.Exec)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(w, "  └─ Status: ⚠️  Disabled")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}
