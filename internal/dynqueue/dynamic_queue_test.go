package dynqueue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/dq-sim/internal/snapshot"
	"github.com/ChuLiYu/dq-sim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func fgProc(id int) *types.Process {
	return types.NewProcess(types.ProcessID(id), true, fmt.Sprintf("fg-%d", id))
}

func bgProc(id int) *types.Process {
	return types.NewProcess(types.ProcessID(id), false, fmt.Sprintf("bg-%d", id))
}

func ids(procs []*types.Process) []types.ProcessID {
	out := make([]types.ProcessID, len(procs))
	for i, p := range procs {
		out[i] = p.ID
	}
	return out
}

func pids(values ...int) []types.ProcessID {
	out := make([]types.ProcessID, len(values))
	for i, v := range values {
		out[i] = types.ProcessID(v)
	}
	return out
}

// assertInvariants checks membership, class placement and the counters
// directly against the internal fields.
func assertInvariants(t *testing.T, q *DynamicQueue) {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()

	if got := len(q.fg) + len(q.bg) + len(q.wait); got != q.processCount {
		t.Errorf("process_count = %d, but |fg|+|bg|+|wait| = %d", q.processCount, got)
	}
	if len(q.bg) != q.bgCount {
		t.Errorf("bg_count = %d, but |bg| = %d", q.bgCount, len(q.bg))
	}

	seen := make(map[types.ProcessID]string)
	mark := func(pid types.ProcessID, where string) {
		if prev, ok := seen[pid]; ok {
			t.Errorf("process %d appears in both %s and %s", pid, prev, where)
		}
		seen[pid] = where
	}
	for _, p := range q.fg {
		if !p.Foreground {
			t.Errorf("background process %d found in fg", p.ID)
		}
		mark(p.ID, "fg")
	}
	for _, p := range q.bg {
		if p.Foreground {
			t.Errorf("foreground process %d found in bg", p.ID)
		}
		mark(p.ID, "bg")
	}
	for pid, p := range q.wait {
		if pid != p.ID {
			t.Errorf("wait key %d holds process %d", pid, p.ID)
		}
		mark(pid, "wait")
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNew(t *testing.T) {
	q := New()

	require.NotNil(t, q.fg)
	require.NotNil(t, q.bg)
	require.NotNil(t, q.wait)

	assert.Equal(t, map[string]int{
		"foreground": 0,
		"background": 0,
		"waiting":    0,
		"processes":  0,
		"running":    0,
	}, q.Stats())
	assert.Zero(t, q.Len())
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*DynamicQueue)
		proc        *types.Process
		wantErr     error
		wantFG      []types.ProcessID
		wantBG      []types.ProcessID
		wantRunning int
	}{
		{
			name:   "Foreground goes to fg",
			setup:  func(q *DynamicQueue) {},
			proc:   fgProc(0),
			wantFG: pids(0),
			wantBG: pids(),
		},
		{
			name:        "Background goes to bg and bumps bg_count",
			setup:       func(q *DynamicQueue) {},
			proc:        bgProc(1),
			wantFG:      pids(),
			wantBG:      pids(1),
			wantRunning: 1,
		},
		{
			name: "Appends at the tail",
			setup: func(q *DynamicQueue) {
				q.Enqueue(bgProc(1))
				q.Enqueue(bgProc(3))
			},
			proc:        bgProc(5),
			wantFG:      pids(),
			wantBG:      pids(1, 3, 5),
			wantRunning: 3,
		},
		{
			name:    "Duplicate id in ready list is rejected",
			setup:   func(q *DynamicQueue) { q.Enqueue(fgProc(2)) },
			proc:    bgProc(2),
			wantErr: ErrDuplicateProcess,
			wantFG:  pids(2),
			wantBG:  pids(),
		},
		{
			name: "Duplicate id in wait is rejected",
			setup: func(q *DynamicQueue) {
				q.Enqueue(fgProc(2))
				q.Sleep(2, 4)
			},
			proc:    fgProc(2),
			wantErr: ErrDuplicateProcess,
			wantFG:  pids(),
			wantBG:  pids(),
		},
		{
			name:    "Nil process is rejected",
			setup:   func(q *DynamicQueue) {},
			proc:    nil,
			wantErr: ErrNilProcess,
			wantFG:  pids(),
			wantBG:  pids(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			tt.setup(q)
			before := q.Len()

			err := q.Enqueue(tt.proc)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				assert.Equal(t, before, q.Len(), "rejected enqueue must not change process_count")
			} else {
				require.NoError(t, err)
				assert.Equal(t, before+1, q.Len())
			}
			assert.Equal(t, tt.wantFG, ids(q.fg))
			assert.Equal(t, tt.wantBG, ids(q.bg))
			assert.Equal(t, tt.wantRunning, q.bgCount)
			assertInvariants(t, q)
		})
	}
}

func TestSleep(t *testing.T) {
	tests := []struct {
		name      string
		pid       types.ProcessID
		seconds   int
		wantErr   error
		wantFG    []types.ProcessID
		wantBG    []types.ProcessID
		wantWait  map[types.ProcessID]int
		wantCount int
	}{
		{
			name:      "Foreground process moves to wait",
			pid:       0,
			seconds:   10,
			wantFG:    pids(2),
			wantBG:    pids(1, 3),
			wantWait:  map[types.ProcessID]int{0: 10},
			wantCount: 4,
		},
		{
			name:      "Background process moves to wait and drops bg_count",
			pid:       3,
			seconds:   2,
			wantFG:    pids(0, 2),
			wantBG:    pids(1),
			wantWait:  map[types.ProcessID]int{3: 2},
			wantCount: 4,
		},
		{
			name:      "Zero seconds is permitted",
			pid:       1,
			seconds:   0,
			wantFG:    pids(0, 2),
			wantBG:    pids(3),
			wantWait:  map[types.ProcessID]int{1: 0},
			wantCount: 4,
		},
		{
			name:      "Unknown id leaves the queue unchanged",
			pid:       42,
			seconds:   5,
			wantErr:   ErrProcessNotReady,
			wantFG:    pids(0, 2),
			wantBG:    pids(1, 3),
			wantWait:  map[types.ProcessID]int{},
			wantCount: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New()
			for _, p := range []*types.Process{fgProc(0), bgProc(1), fgProc(2), bgProc(3)} {
				require.NoError(t, q.Enqueue(p))
			}

			err := q.Sleep(tt.pid, tt.seconds)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantFG, ids(q.fg))
			assert.Equal(t, tt.wantBG, ids(q.bg))
			gotWait := make(map[types.ProcessID]int)
			for pid, p := range q.wait {
				gotWait[pid] = p.RemainingTime
			}
			assert.Equal(t, tt.wantWait, gotWait)
			assert.Equal(t, tt.wantCount, q.Len(), "process_count counts waiters")
			assertInvariants(t, q)
		})
	}
}

func TestSleep_AlreadyWaitingIsNoop(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(fgProc(2)))
	require.NoError(t, q.Sleep(2, 10))
	q.TickWake()

	err := q.Sleep(2, 99)

	assert.True(t, errors.Is(err, ErrProcessNotReady))
	p, loc, ok := q.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, LocationWait, loc)
	assert.Equal(t, 9, p.RemainingTime, "remaining time must not be reset")
}

func TestTickWake_EmptyWaitIsNoop(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(fgProc(0)))
	require.NoError(t, q.Enqueue(bgProc(1)))
	before := q.View()

	woken := q.TickWake()

	assert.Nil(t, woken)
	after := q.View()
	before.TakenAt = time.Time{}
	after.TakenAt = time.Time{}
	assert.Equal(t, before, after)
}

func TestTickWake_CountdownAndReadmit(t *testing.T) {
	for _, s := range []int{1, 2, 5, 10} {
		t.Run(fmt.Sprintf("seconds=%d", s), func(t *testing.T) {
			q := New()
			require.NoError(t, q.Enqueue(fgProc(0)))
			require.NoError(t, q.Enqueue(fgProc(2)))
			require.NoError(t, q.Enqueue(fgProc(4)))
			require.NoError(t, q.Sleep(2, s))

			for tick := 1; tick < s; tick++ {
				assert.Empty(t, q.TickWake())
				p, loc, ok := q.Lookup(2)
				require.True(t, ok)
				assert.Equal(t, LocationWait, loc)
				assert.Equal(t, s-tick, p.RemainingTime)
			}

			assert.Equal(t, pids(2), q.TickWake())
			_, loc, _ := q.Lookup(2)
			assert.Equal(t, LocationForeground, loc)
			assert.Equal(t, pids(0, 4, 2), ids(q.fg), "woken process goes to the tail")
			assertInvariants(t, q)
		})
	}
}

func TestTickWake_ZeroSecondsWakesNextTick(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(bgProc(1)))
	require.NoError(t, q.Enqueue(bgProc(3)))
	require.NoError(t, q.Sleep(1, 0))
	assert.Equal(t, 1, q.Stats()["running"])

	assert.Equal(t, pids(1), q.TickWake())
	assert.Equal(t, pids(3, 1), ids(q.bg))
	assert.Equal(t, 2, q.Stats()["running"])
	assertInvariants(t, q)
}

func TestTickWake_NegativeSecondsWakesNextTick(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(fgProc(0)))
	require.NoError(t, q.Sleep(0, -3))

	assert.Equal(t, pids(0), q.TickWake())
	assert.Empty(t, q.wait)
}

func TestTickWake_SimultaneousExpiryInIDOrder(t *testing.T) {
	q := New()
	for _, p := range []*types.Process{bgProc(9), fgProc(4), bgProc(7), fgProc(2)} {
		require.NoError(t, q.Enqueue(p))
	}
	for _, pid := range pids(9, 4, 7, 2) {
		require.NoError(t, q.Sleep(pid, 1))
	}

	assert.Equal(t, pids(2, 4, 7, 9), q.TickWake())
	assert.Equal(t, pids(2, 4), ids(q.fg))
	assert.Equal(t, pids(7, 9), ids(q.bg))
}

func TestRoundTrip_SleepThenWake(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(bgProc(1)))
	require.NoError(t, q.Enqueue(bgProc(3)))
	require.NoError(t, q.Enqueue(bgProc(5)))

	require.NoError(t, q.Sleep(1, 3))
	for i := 0; i < 3; i++ {
		q.TickWake()
	}

	assert.Equal(t, pids(3, 5, 1), ids(q.bg))
	assert.Empty(t, q.wait)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.bgCount)
}

func TestFIFOWithinClass(t *testing.T) {
	q := New()
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			require.NoError(t, q.Enqueue(fgProc(i)))
		} else {
			require.NoError(t, q.Enqueue(bgProc(i)))
		}
	}

	assert.Equal(t, pids(0, 2, 4), ids(q.fg))
	assert.Equal(t, pids(1, 3, 5), ids(q.bg))
}

func TestLookup(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(fgProc(0)))
	require.NoError(t, q.Enqueue(bgProc(1)))
	require.NoError(t, q.Enqueue(fgProc(2)))
	require.NoError(t, q.Sleep(2, 4))

	tests := []struct {
		pid     types.ProcessID
		wantLoc Location
		wantOK  bool
	}{
		{0, LocationForeground, true},
		{1, LocationBackground, true},
		{2, LocationWait, true},
		{3, "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("pid=%d", tt.pid), func(t *testing.T) {
			p, loc, ok := q.Lookup(tt.pid)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLoc, loc)
			if ok {
				assert.Equal(t, tt.pid, p.ID)
			}
		})
	}

	// Lookup returns a copy.
	p, _, _ := q.Lookup(2)
	p.RemainingTime = 100
	again, _, _ := q.Lookup(2)
	assert.Equal(t, 4, again.RemainingTime)
}

func TestView_IsDeepCopy(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(fgProc(0)))
	require.NoError(t, q.Enqueue(bgProc(1)))

	v := q.View()
	v.Foreground[0].Command = "changed"
	v.Background[0].Promoted = true

	assert.Equal(t, "fg-0", q.fg[0].Command)
	assert.False(t, q.bg[0].Promoted)
}

func TestEnqueue_CopiesCallerRecord(t *testing.T) {
	q := New()
	p := fgProc(2)
	require.NoError(t, q.Enqueue(p))
	before := q.View()

	p.Foreground = false
	p.Command = "changed"
	p.RemainingTime = 42

	after := q.View()
	assert.Equal(t, before.Foreground, after.Foreground)
	require.Len(t, after.Foreground, 1)
	assert.Equal(t, "2F", after.Foreground[0].Label())
	assert.Empty(t, after.Background)
	assertInvariants(t, q)

	// The caller's record is not shared with TickWake.
	require.NoError(t, q.Sleep(2, 5))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			q.TickWake()
		}
	}()
	for i := 0; i < 100; i++ {
		_ = p.RemainingTime
	}
	wg.Wait()

	assert.Equal(t, 42, p.RemainingTime)
	got, loc, ok := q.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, LocationForeground, loc)
	assert.True(t, got.Foreground)
	assert.Equal(t, "fg-2", got.Command)
	assertInvariants(t, q)
}

func TestPrintSnapshot(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(types.NewProcess(0, true, "shell")))
	require.NoError(t, q.Enqueue(types.NewProcess(1, false, "monitor")))
	require.NoError(t, q.Enqueue(types.NewProcess(2, true, "alarm clock")))
	require.NoError(t, q.Sleep(2, 10))
	require.NoError(t, q.Enqueue(types.NewProcess(3, false, "todo list")))

	var buf bytes.Buffer
	require.NoError(t, q.PrintSnapshot(&buf))

	want := "Running: [2B]\n" +
		"---------------------------\n" +
		"DQ: (bottom) [1B] [3B] \n" +
		"P => [0F] (top)\n" +
		"---------------------------\n" +
		"WQ: [2F: 10s] \n" +
		"...\n"
	assert.Equal(t, want, buf.String())
}

// ============================================================================
// Randomized tests
// ============================================================================

// model is a straightforward reference implementation used to cross-check
// the queue under random operation sequences.
type model struct {
	fg, bg []types.ProcessID
	wait   map[types.ProcessID]int
	class  map[types.ProcessID]bool
}

func (m *model) sleep(pid types.ProcessID, s int) {
	if i := slices.Index(m.fg, pid); i >= 0 {
		m.fg = slices.Delete(m.fg, i, i+1)
		m.wait[pid] = s
		return
	}
	if i := slices.Index(m.bg, pid); i >= 0 {
		m.bg = slices.Delete(m.bg, i, i+1)
		m.wait[pid] = s
	}
}

func (m *model) tick() {
	var keys []types.ProcessID
	for pid := range m.wait {
		keys = append(keys, pid)
	}
	slices.Sort(keys)
	for _, pid := range keys {
		m.wait[pid]--
		if m.wait[pid] > 0 {
			continue
		}
		delete(m.wait, pid)
		if m.class[pid] {
			m.fg = append(m.fg, pid)
		} else {
			m.bg = append(m.bg, pid)
		}
	}
}

func TestRandomizedOperations(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			q := New()
			m := &model{
				fg:    []types.ProcessID{},
				bg:    []types.ProcessID{},
				wait:  map[types.ProcessID]int{},
				class: map[types.ProcessID]bool{},
			}
			nextID := 0

			for step := 0; step < 300; step++ {
				switch op := rng.Intn(10); {
				case op < 4:
					fg := rng.Intn(2) == 0
					p := types.NewProcess(types.ProcessID(nextID), fg, "cmd")
					require.NoError(t, q.Enqueue(p))
					m.class[p.ID] = fg
					if fg {
						m.fg = append(m.fg, p.ID)
					} else {
						m.bg = append(m.bg, p.ID)
					}
					nextID++
				case op < 7:
					pid := types.ProcessID(rng.Intn(nextID + 3))
					s := rng.Intn(6) - 1
					q.Sleep(pid, s)
					m.sleep(pid, s)
				default:
					q.TickWake()
					m.tick()
				}

				assertInvariants(t, q)
				require.Equal(t, m.fg, ids(q.fg), "step %d fg", step)
				require.Equal(t, m.bg, ids(q.bg), "step %d bg", step)
				gotWait := make(map[types.ProcessID]int)
				for pid, p := range q.wait {
					gotWait[pid] = p.RemainingTime
				}
				require.Equal(t, m.wait, gotWait, "step %d wait", step)
			}
		})
	}
}

// ============================================================================
// Concurrent tests
// ============================================================================

func TestConcurrentEnqueueAndTick(t *testing.T) {
	q := New()

	const numGoroutines = 8
	const procsPerGoroutine = 100

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*procsPerGoroutine)

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < procsPerGoroutine; j++ {
				id := g*procsPerGoroutine + j
				p := types.NewProcess(types.ProcessID(id), id%2 == 0, "cmd")
				if err := q.Enqueue(p); err != nil {
					errs <- err
					continue
				}
				if id%3 == 0 {
					if err := q.Sleep(p.ID, 2); err != nil && !errors.Is(err, ErrProcessNotReady) {
						errs <- err
					}
				}
			}
		}(g)
	}

	stop := make(chan struct{})
	var tickerWG sync.WaitGroup
	tickerWG.Add(1)
	go func() {
		defer tickerWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
				q.TickWake()
			}
		}
	}()

	wg.Wait()
	close(stop)
	tickerWG.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation error: %v", err)
	}

	assertInvariants(t, q)
	assert.Equal(t, numGoroutines*procsPerGoroutine, q.Len())

	// Drain the wait queue; every process ends up in its native list.
	q.TickWake()
	q.TickWake()
	stats := q.Stats()
	assert.Zero(t, stats["waiting"])
	assert.Equal(t, numGoroutines*procsPerGoroutine/2, stats["foreground"])
	assert.Equal(t, numGoroutines*procsPerGoroutine/2, stats["background"])
}

func TestConcurrentSnapshotsAreConsistent(t *testing.T) {
	q := New()
	var out syncBuffer

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			p := types.NewProcess(types.ProcessID(i), i%2 == 1, "cmd")
			q.Enqueue(p)
			if i%4 == 0 {
				q.Sleep(p.ID, 1+i%3)
			}
			q.TickWake()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.NoError(t, q.Render(&out, snapshot.JSON))
		}
	}()
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 200)
	for _, line := range lines {
		var v struct {
			Running      int               `json:"running"`
			ProcessCount int               `json:"process_count"`
			Background   []json.RawMessage `json:"background"`
			Foreground   []json.RawMessage `json:"foreground"`
			Waiting      []json.RawMessage `json:"waiting"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &v))
		assert.Equal(t, len(v.Background), v.Running)
		assert.Equal(t, len(v.Background)+len(v.Foreground)+len(v.Waiting), v.ProcessCount)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ============================================================================
// Performance tests (Benchmarks)
// ============================================================================

func BenchmarkEnqueue(b *testing.B) {
	q := New()
	for i := 0; i < b.N; i++ {
		q.Enqueue(types.NewProcess(types.ProcessID(i), i%2 == 0, "bench"))
	}
}

func BenchmarkTickWake(b *testing.B) {
	q := New()
	for i := 0; i < 1000; i++ {
		q.Enqueue(types.NewProcess(types.ProcessID(i), i%2 == 0, "bench"))
		q.Sleep(types.ProcessID(i), 1<<30)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.TickWake()
	}
}
