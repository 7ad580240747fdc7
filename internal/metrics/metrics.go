// ============================================================================
// dq-sim Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集排程模擬器的運行指標，透過 /metrics 暴露給 Prometheus
//
// 指標分類:
//
//   1. 事件計數器 (Counter) - 累計值，只增不減：
//      - dqsim_processes_enqueued_total: Shell 建立並入隊的行程數
//      - dqsim_sleeps_total: 被移入等待佇列的次數
//      - dqsim_wakeups_total: 從等待佇列喚醒的行程數
//      - dqsim_ticks_total: Monitor 推進的邏輯 tick 數
//      - dqsim_snapshots_total: 已輸出的快照數
//
//   2. 分佈指標 (Histogram)：
//      - dqsim_wake_batch_size: 每個 tick 喚醒的行程數
//
//   3. 狀態指標 (Gauge) - 瞬時值，每次輸出快照後更新：
//      - dqsim_foreground_processes
//      - dqsim_background_processes（= Running 欄位）
//      - dqsim_waiting_processes
//
// Prometheus 查詢示例:
//
//   # 每分鐘喚醒數
//   rate(dqsim_wakeups_total[1m])
//
//   # 等待佇列積壓
//   dqsim_waiting_processes
//
// HTTP 端點:
//   預設關閉；啟用後於 :9090/metrics 提供文本格式
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 事件計數
	enqueued  prometheus.Counter
	sleeps    prometheus.Counter
	wakeups   prometheus.Counter
	ticks     prometheus.Counter
	snapshots prometheus.Counter

	// 分佈
	wakeBatch prometheus.Histogram

	// 佇列狀態
	foreground prometheus.Gauge
	background prometheus.Gauge
	waiting    prometheus.Gauge
}

// NewCollector 創建並註冊指標收集器
//
// 參數：
//   - reg: 註冊目標；nil 時使用 prometheus.DefaultRegisterer
//
// 同一個 Registerer 只能註冊一個 Collector，重複註冊會 panic。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dqsim_processes_enqueued_total",
			Help: "Total number of processes spawned into the ready lists",
		}),
		sleeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dqsim_sleeps_total",
			Help: "Total number of processes moved to the wait queue",
		}),
		wakeups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dqsim_wakeups_total",
			Help: "Total number of processes woken from the wait queue",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dqsim_ticks_total",
			Help: "Total number of logical ticks applied to the wait queue",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dqsim_snapshots_total",
			Help: "Total number of queue snapshots printed",
		}),
		wakeBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dqsim_wake_batch_size",
			Help:    "Number of processes woken per tick",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}),
		foreground: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dqsim_foreground_processes",
			Help: "Current number of processes in the foreground ready list",
		}),
		background: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dqsim_background_processes",
			Help: "Current number of processes in the background ready list",
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dqsim_waiting_processes",
			Help: "Current number of processes in the wait queue",
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.enqueued,
		c.sleeps,
		c.wakeups,
		c.ticks,
		c.snapshots,
		c.wakeBatch,
		c.foreground,
		c.background,
		c.waiting,
	)

	return c
}

// RecordEnqueue 記錄行程入隊
func (c *Collector) RecordEnqueue() {
	c.enqueued.Inc()
}

// RecordSleep 記錄行程進入等待佇列
func (c *Collector) RecordSleep() {
	c.sleeps.Inc()
}

// RecordTick 記錄一次 tick 及其喚醒的行程數
func (c *Collector) RecordTick(woken int) {
	c.ticks.Inc()
	c.wakeups.Add(float64(woken))
	c.wakeBatch.Observe(float64(woken))
}

// RecordSnapshot 記錄快照輸出
func (c *Collector) RecordSnapshot() {
	c.snapshots.Inc()
}

// UpdateQueueStats 依 DynamicQueue.Stats() 的結果更新佇列狀態
func (c *Collector) UpdateQueueStats(stats map[string]int) {
	c.foreground.Set(float64(stats["foreground"]))
	c.background.Set(float64(stats["background"]))
	c.waiting.Set(float64(stats["waiting"]))
}

// Handler 回傳 /metrics 的 HTTP handler；gatherer 為 nil 時使用預設 registry
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// shutdownTimeout 關閉伺服器時等待進行中請求的上限
const shutdownTimeout = 5 * time.Second

// StartServer 啟動 Prometheus metrics HTTP 伺服器，直到 ctx 取消
//
// 參數：
//   - ctx: 取消時優雅關閉伺服器
//   - port: HTTP 伺服器端口
//   - gatherer: 指標來源；nil 時使用預設 registry
//
// 返回值：
//   - error: 啟動失敗或關閉逾時的錯誤；正常關閉時為 nil
//
// 返回時伺服器已完全關閉，端口已釋放。
func StartServer(ctx context.Context, port int, gatherer prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serve(ctx, srv, ln, shutdownTimeout)
}

// serve 在 ln 上提供服務，ctx 取消後呼叫 Shutdown 並等待其結果
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	stop := make(chan struct{})
	defer close(stop)

	shutdownErr := make(chan error, 1)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	// ErrServerClosed 只會在 Shutdown 開始後出現
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
