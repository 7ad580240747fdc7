// ============================================================================
// dq-sim 動態佇列 - 前景/背景多層佇列與等待佇列
// ============================================================================
//
// Package: internal/dynqueue
// 文件: dynamic_queue.go
// 功能: 以單一互斥鎖保護的多層佇列，供 shell 與 monitor 兩個 agent 並發使用
//
// 數據結構:
//   fg   []*Process            - 前景就緒清單（bottom → top，FIFO）
//   bg   []*Process            - 背景就緒清單（bottom → top，FIFO）
//   wait map[ProcessID]*Process - 等待佇列，以 ID 為鍵
//   processCount               - |fg| + |bg| + |wait|
//   bgCount                    - |bg|
//
// 行程狀態轉換 (State Machine):
//   (none) --Enqueue--> FG / BG
//   FG / BG --Sleep--> WAIT
//   WAIT --TickWake (remaining ≤ 0)--> 原本所屬的清單尾端
//
// 不變量:
//   - 每個行程恰好位於 fg、bg、wait 其中之一
//   - fg 只含前景行程，bg 只含背景行程；wait 兩者皆可
//   - 兩個計數與清單/映射在同一個臨界區內更新，任何時刻都一致
//
// 並發安全:
//   - 五個欄位共用一把 sync.Mutex，不拆成獨立的 atomic 計數
//   - 快照在持有鎖時寫入 sink，因此快照本身不會與其他快照交錯
//
// ============================================================================

package dynqueue

import (
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/ChuLiYu/dq-sim/internal/clock"
	"github.com/ChuLiYu/dq-sim/internal/snapshot"
	"github.com/ChuLiYu/dq-sim/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 行程 ID 已存在於佇列中
	ErrDuplicateProcess = errors.New("process already queued")
	// 行程不在任何就緒清單中（已在等待佇列或不存在）
	ErrProcessNotReady = errors.New("process not in a ready list")
	// 傳入 nil 行程
	ErrNilProcess = errors.New("nil process")
)

// Location 行程目前所在的位置
type Location string

const (
	LocationForeground Location = "foreground"
	LocationBackground Location = "background"
	LocationWait       Location = "wait"
)

// DynamicQueue 動態多層佇列
type DynamicQueue struct {
	mu           sync.Mutex
	fg           []*types.Process                    // 前景就緒清單
	bg           []*types.Process                    // 背景就緒清單
	wait         map[types.ProcessID]*types.Process // 等待佇列
	processCount int                                 // fg + bg + wait
	bgCount      int                                 // bg
}

// New 建立空的動態佇列
//
// 併發安全：返回的實例是執行緒安全的
func New() *DynamicQueue {
	return &DynamicQueue{
		fg:   make([]*types.Process, 0),
		bg:   make([]*types.Process, 0),
		wait: make(map[types.ProcessID]*types.Process),
	}
}

// Enqueue 將行程的副本加入所屬的就緒清單尾端
//
// 參數說明：
//   - p: 要加入的行程，ID 必須在佇列中唯一；佇列保存 *p 的副本，
//     呼叫端之後對 p 的修改不影響佇列
//
// 錯誤處理：
//   - ErrNilProcess: p 為 nil
//   - ErrDuplicateProcess: 相同 ID 已在 fg、bg 或 wait 中，佇列不變
//
// 併發安全：使用互斥鎖保護
func (q *DynamicQueue) Enqueue(p *types.Process) error {
	if p == nil {
		return ErrNilProcess
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locateLocked(p.ID) != "" {
		return ErrDuplicateProcess
	}

	owned := *p
	q.pushReadyLocked(&owned)
	q.processCount++
	return nil
}

// Sleep 將就緒清單中的行程移到等待佇列，設定剩餘 tick 數
//
// 參數說明：
//   - pid: 行程 ID，先找前景清單，再找背景清單
//   - seconds: 剩餘 tick 數；≤ 0 也允許，下一次 TickWake 會立即喚醒
//
// 錯誤處理：
//   - ErrProcessNotReady: 行程不在任何就緒清單中（已在等待或不存在），佇列不變
//
// processCount 不變（等待佇列也計入總數）。
//
// 併發安全：使用互斥鎖保護
func (q *DynamicQueue) Sleep(pid types.ProcessID, seconds int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := indexOf(q.fg, pid); i >= 0 {
		p := q.fg[i]
		q.fg = slices.Delete(q.fg, i, i+1)
		p.RemainingTime = seconds
		q.wait[pid] = p
		return nil
	}

	if i := indexOf(q.bg, pid); i >= 0 {
		p := q.bg[i]
		q.bg = slices.Delete(q.bg, i, i+1)
		q.bgCount--
		p.RemainingTime = seconds
		q.wait[pid] = p
		return nil
	}

	return ErrProcessNotReady
}

// TickWake 推進等待佇列一個邏輯 tick
//
// 每個等待中的行程 RemainingTime 減 1；減完後 ≤ 0 的行程離開等待佇列，
// 加到原本所屬清單的尾端（不恢復原位置）。處理順序依 ID 遞增，結果可重現。
//
// 返回值：
//   - []ProcessID: 本次被喚醒的行程 ID（依處理順序），等待佇列為空時回傳 nil
//
// 併發安全：使用互斥鎖保護
func (q *DynamicQueue) TickWake() []types.ProcessID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.wait) == 0 {
		return nil
	}

	var woken []types.ProcessID
	for _, pid := range q.waitIDsLocked() {
		p := q.wait[pid]
		p.RemainingTime--
		if p.RemainingTime > 0 {
			continue
		}

		delete(q.wait, pid)
		q.pushReadyLocked(p)
		woken = append(woken, pid)
	}

	return woken
}

// PrintSnapshot 以文字格式將目前狀態寫入 sink
//
// 整個渲染過程持有鎖，因此不會看到寫到一半的狀態，
// 兩個 agent 同時列印時也只會在快照邊界交錯。
func (q *DynamicQueue) PrintSnapshot(w io.Writer) error {
	return q.Render(w, snapshot.Text)
}

// Render 使用指定的 renderer 將目前狀態寫入 sink（持有鎖）
func (q *DynamicQueue) Render(w io.Writer, r snapshot.Renderer) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return r.Render(w, q.viewLocked())
}

// View 取得佇列的一致性深拷貝
//
// 併發安全：使用互斥鎖保護
func (q *DynamicQueue) View() types.QueueView {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.viewLocked()
}

// Stats 取得各清單的統計資訊
//
// 返回值：
//   - map[string]int: foreground, background, waiting, processes, running
//
// 併發安全：使用互斥鎖保護
func (q *DynamicQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return map[string]int{
		"foreground": len(q.fg),
		"background": len(q.bg),
		"waiting":    len(q.wait),
		"processes":  q.processCount,
		"running":    q.bgCount,
	}
}

// Len 回傳佇列中的行程總數（processCount）
func (q *DynamicQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processCount
}

// Lookup 查詢行程目前的位置，回傳行程的副本
//
// 併發安全：使用互斥鎖保護
func (q *DynamicQueue) Lookup(pid types.ProcessID) (types.Process, Location, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch loc := q.locateLocked(pid); loc {
	case LocationForeground:
		return *q.fg[indexOf(q.fg, pid)], loc, true
	case LocationBackground:
		return *q.bg[indexOf(q.bg, pid)], loc, true
	case LocationWait:
		return *q.wait[pid], loc, true
	default:
		return types.Process{}, "", false
	}
}

// ============================================================================
// 內部方法（呼叫端必須持有 q.mu）
// ============================================================================

func (q *DynamicQueue) pushReadyLocked(p *types.Process) {
	if p.Foreground {
		q.fg = append(q.fg, p)
		return
	}
	q.bg = append(q.bg, p)
	q.bgCount++
}

func (q *DynamicQueue) locateLocked(pid types.ProcessID) Location {
	if _, ok := q.wait[pid]; ok {
		return LocationWait
	}
	if indexOf(q.fg, pid) >= 0 {
		return LocationForeground
	}
	if indexOf(q.bg, pid) >= 0 {
		return LocationBackground
	}
	return ""
}

func (q *DynamicQueue) waitIDsLocked() []types.ProcessID {
	ids := make([]types.ProcessID, 0, len(q.wait))
	for pid := range q.wait {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	return ids
}

func (q *DynamicQueue) viewLocked() types.QueueView {
	waiting := make([]types.Process, 0, len(q.wait))
	for _, pid := range q.waitIDsLocked() {
		waiting = append(waiting, *q.wait[pid])
	}

	return types.QueueView{
		Running:      q.bgCount,
		ProcessCount: q.processCount,
		Background:   copyProcesses(q.bg),
		Foreground:   copyProcesses(q.fg),
		Waiting:      waiting,
		TakenAt:      clock.Now(),
	}
}

func indexOf(list []*types.Process, pid types.ProcessID) int {
	return slices.IndexFunc(list, func(p *types.Process) bool { return p.ID == pid })
}

func copyProcesses(list []*types.Process) []types.Process {
	out := make([]types.Process, len(list))
	for i, p := range list {
		out[i] = *p
	}
	return out
}
