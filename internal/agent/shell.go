package agent

import (
	"context"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/dynqueue"
	"github.com/ChuLiYu/dq-sim/pkg/types"
)

// DefaultCommands is the shell's command catalogue, in spawn order.
var DefaultCommands = []string{
	"alarm clock",
	"todo list",
	"email check",
	"music player",
	"video player",
	"web browser",
}

// ShellConfig configures the shell agent.
type ShellConfig struct {
	Interval   time.Duration // delay after each spawn, before the snapshot
	SleepTicks int           // ticks for diverted processes; 0 means 2 × Interval in whole seconds
	Commands   []string      // catalogue; DefaultCommands when empty
}

// Shell spawns one process per catalogue entry and diverts every process
// whose successor id is a multiple of three to the wait queue.
type Shell struct {
	queue  *dynqueue.DynamicQueue
	config ShellConfig
	opts   options
	nextID types.ProcessID
}

// NewShell creates a shell agent feeding q.
func NewShell(q *dynqueue.DynamicQueue, config ShellConfig, opts ...Option) *Shell {
	if len(config.Commands) == 0 {
		config.Commands = DefaultCommands
	}
	return &Shell{
		queue:  q,
		config: config,
		opts:   newOptions(opts),
		nextID: types.FirstUserPID,
	}
}

// Name implements Agent.
func (s *Shell) Name() string { return "shell" }

// SleepTicks returns how many ticks a diverted process waits.
func (s *Shell) SleepTicks() int {
	if s.config.SleepTicks > 0 {
		return s.config.SleepTicks
	}
	return 2 * int(s.config.Interval/time.Second)
}

// Run walks the catalogue once. It returns nil when the catalogue is
// exhausted or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	log := s.opts.logger.With("agent", s.Name())
	spawned := 0

	for _, command := range s.config.Commands {
		if ctx.Err() != nil {
			log.Info("Shell stopped", "spawned", spawned)
			return nil
		}

		s.spawn(command)
		spawned++

		if err := s.opts.pacer.Wait(ctx, s.config.Interval); err != nil {
			log.Info("Shell stopped", "spawned", spawned)
			return nil
		}
		s.opts.printSnapshot(s.queue, s.Name())
	}

	log.Info("Shell catalogue exhausted", "spawned", spawned)
	return nil
}

func (s *Shell) spawn(command string) {
	log := s.opts.logger.With("agent", s.Name())

	pid := s.nextID
	s.nextID++

	proc := types.NewProcess(pid, pid%2 == 0, command)
	if err := s.queue.Enqueue(proc); err != nil {
		log.Error("Failed to enqueue process", "pid", pid, "error", err)
		return
	}
	s.opts.recorder.RecordEnqueue()
	log.Debug("Process spawned", "pid", pid, "class", proc.Class(), "command", command)

	if s.nextID%3 != 0 {
		return
	}

	ticks := s.SleepTicks()
	if err := s.queue.Sleep(pid, ticks); err != nil {
		log.Debug("Sleep skipped", "pid", pid, "error", err)
		return
	}
	s.opts.recorder.RecordSleep()
	log.Debug("Process diverted to wait queue", "pid", pid, "ticks", ticks)
}
