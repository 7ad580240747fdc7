// ============================================================================
// dq-sim 模擬器 - 系統核心協調器
// ============================================================================
//
// Package: internal/simulator
// 文件: simulator.go
// 功能: 建立動態佇列，啟動 Shell 與 Monitor 兩個 agent，並負責有序關閉
//
// 架構設計:
//   - DynamicQueue: 三個清單（前景、背景、等待）的共享狀態
//   - Shell: 依命令目錄建立行程，部分行程轉入等待佇列
//   - Monitor: 每個 interval 推進一個邏輯 tick 並喚醒到期行程
//
// 執行流程:
//   1. bootstrap() - 放入 0F (shell) 與 1B (monitor)
//   2. Monitor 於獨立的 agent group 中啟動
//   3. Shell 跑完命令目錄
//   4. Monitor 再繼續 linger 一段時間，之後協作式停止並等待結束
//   5. 選擇性輸出最終快照，並執行收尾命令
//
// 並發安全:
//   - 佇列本身以單一互斥鎖保護，快照於持鎖期間一次寫出
//   - context 取消（SIGINT/SIGTERM）會讓兩個 agent 在下一個檢查點返回
//
// ============================================================================

package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/agent"
	"github.com/ChuLiYu/dq-sim/internal/clock"
	"github.com/ChuLiYu/dq-sim/internal/command"
	"github.com/ChuLiYu/dq-sim/internal/dynqueue"
	"github.com/ChuLiYu/dq-sim/internal/snapshot"
	"github.com/ChuLiYu/dq-sim/pkg/types"
	"github.com/google/uuid"
)

// ErrInvalidConfig 配置不合法
var ErrInvalidConfig = errors.New("invalid simulator config")

// ============================================================================
// 資料結構定義
// ============================================================================

// Config 模擬器配置
type Config struct {
	Shell         agent.ShellConfig   // Shell 間隔、睡眠 tick、命令目錄
	Monitor       agent.MonitorConfig // Monitor tick 間隔
	Linger        time.Duration       // Shell 結束後 Monitor 繼續運行的時間
	Format        string              // 快照格式：text 或 json
	FinalSnapshot bool                // 結束前是否輸出最終快照
	ExecLine      string              // 結束後執行的命令，空字串表示略過
}

// Option 模擬器選項
type Option func(*Simulator)

// Simulator 模擬器
type Simulator struct {
	config       Config
	queue        *dynqueue.DynamicQueue
	renderer     snapshot.Renderer
	runID        string
	logger       *slog.Logger
	out          io.Writer
	recorder     agent.Recorder
	shellPacer   clock.Pacer
	monitorPacer clock.Pacer
	lingerPacer  clock.Pacer
}

// WithLogger 設定 logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOutput 設定快照與命令輸出的目的地（預設 stdout）
func WithOutput(w io.Writer) Option {
	return func(s *Simulator) {
		if w != nil {
			s.out = w
		}
	}
}

// WithRecorder 設定指標收集器
func WithRecorder(r agent.Recorder) Option {
	return func(s *Simulator) { s.recorder = r }
}

// WithPacers 分別設定 Shell、Monitor 與 linger 使用的 Pacer；nil 表示保留預設
func WithPacers(shell, monitor, linger clock.Pacer) Option {
	return func(s *Simulator) {
		if shell != nil {
			s.shellPacer = shell
		}
		if monitor != nil {
			s.monitorPacer = monitor
		}
		if linger != nil {
			s.lingerPacer = linger
		}
	}
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立模擬器
//
// 返回值：
//   - error: 配置不合法時回傳包裝過的 ErrInvalidConfig
func New(config Config, opts ...Option) (*Simulator, error) {
	if config.Shell.Interval <= 0 {
		return nil, fmt.Errorf("%w: shell interval must be positive, got %s", ErrInvalidConfig, config.Shell.Interval)
	}
	if config.Monitor.Interval <= 0 {
		return nil, fmt.Errorf("%w: monitor interval must be positive, got %s", ErrInvalidConfig, config.Monitor.Interval)
	}
	if config.Linger < 0 {
		return nil, fmt.Errorf("%w: linger must not be negative, got %s", ErrInvalidConfig, config.Linger)
	}
	renderer, err := snapshot.ByName(config.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s := &Simulator{
		config:       config,
		queue:        dynqueue.New(),
		renderer:     renderer,
		runID:        uuid.NewString(),
		logger:       slog.Default(),
		out:          os.Stdout,
		shellPacer:   clock.Wall{},
		monitorPacer: clock.Wall{},
		lingerPacer:  clock.Wall{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("run_id", s.runID)
	return s, nil
}

// Queue 回傳模擬器使用的佇列
func (s *Simulator) Queue() *dynqueue.DynamicQueue { return s.queue }

// RunID 回傳本次執行的唯一識別碼
func (s *Simulator) RunID() string { return s.runID }

// Run 執行一次完整模擬，直到 Shell 跑完命令目錄或 ctx 被取消
func (s *Simulator) Run(ctx context.Context) error {
	start := time.Now()
	log := s.logger

	if err := s.bootstrap(); err != nil {
		return err
	}
	log.Info("Simulation started",
		"shell_interval", s.config.Shell.Interval,
		"monitor_interval", s.config.Monitor.Interval,
		"linger", s.config.Linger,
		"format", s.config.Format)

	agentOpts := []agent.Option{
		agent.WithLogger(log),
		agent.WithSink(s.out),
		agent.WithRenderer(s.renderer),
		agent.WithRecorder(s.recorder),
	}

	// 1. Monitor 在自己的 group 中運行，Shell 結束後才停止
	monitors := agent.NewGroup(ctx, log)
	monitor := agent.NewMonitor(s.queue, s.config.Monitor, append(agentOpts, agent.WithPacer(s.monitorPacer))...)
	if err := monitors.Go(monitor); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	// 2. Shell 跑完命令目錄
	shells := agent.NewGroup(ctx, log)
	shell := agent.NewShell(s.queue, s.config.Shell, append(agentOpts, agent.WithPacer(s.shellPacer))...)
	if err := shells.Go(shell); err != nil {
		monitors.Stop()
		return errors.Join(fmt.Errorf("start shell: %w", err), monitors.Wait())
	}
	shellErr := shells.Wait()

	// 3. linger 後協作式停止 Monitor
	if s.config.Linger > 0 && ctx.Err() == nil {
		log.Debug("Monitor lingering", "duration", s.config.Linger)
		s.lingerPacer.Wait(ctx, s.config.Linger)
	}
	monitors.Stop()
	monitorErr := monitors.Wait()

	// 4. 收尾
	if s.config.FinalSnapshot {
		if err := s.queue.Render(s.out, s.renderer); err != nil {
			log.Error("Failed to print final snapshot", "error", err)
		}
	}

	interrupted := ctx.Err() != nil
	if !interrupted && s.config.ExecLine != "" {
		if err := command.Run(s.out, s.config.ExecLine); err != nil && !errors.Is(err, command.ErrEmptyCommand) {
			log.Error("Failed to execute command", "command", s.config.ExecLine, "error", err)
		}
	}

	stats := s.queue.Stats()
	log.Info("Simulation finished",
		"interrupted", interrupted,
		"processes", stats["processes"],
		"foreground", stats["foreground"],
		"background", stats["background"],
		"waiting", stats["waiting"],
		"duration", time.Since(start))

	return errors.Join(shellErr, monitorErr)
}

// bootstrap 放入 shell 與 monitor 兩個保留行程
func (s *Simulator) bootstrap() error {
	reserved := []*types.Process{
		types.NewProcess(types.ShellPID, true, "shell"),
		types.NewProcess(types.MonitorPID, false, "monitor"),
	}
	for _, p := range reserved {
		if err := s.queue.Enqueue(p); err != nil {
			return fmt.Errorf("bootstrap process %d: %w", p.ID, err)
		}
	}
	return nil
}
