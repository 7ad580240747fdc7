// Package types 定義了 dq-sim 模擬器中使用的核心領域模型
package types

import (
	"strconv"
	"time"
)

// ProcessID 行程唯一識別碼
type ProcessID int

// 保留的行程 ID
const (
	ShellPID     ProcessID = 0 // shell agent 自身
	MonitorPID   ProcessID = 1 // monitor agent 自身
	FirstUserPID ProcessID = 2 // 使用者行程從 2 開始編號
)

// Class 行程類別：前景 (F) 或背景 (B)
type Class string

const (
	Foreground Class = "F"
	Background Class = "B"
)

// Process 行程記錄，代表佇列中的一個模擬行程
//
// 行程本身是惰性資料，不對應任何真實的 OS 行程；建立後在整個執行期間都存在。
type Process struct {
	ID         ProcessID `json:"id"`         // 行程唯一識別碼
	Foreground bool      `json:"foreground"` // true 為前景 (F)，false 為背景 (B)
	Command    string    `json:"command"`    // 不可變的命令標籤
	Promoted   bool      `json:"promoted"`   // 僅記錄與顯示（*），目前沒有任何規則會設定它

	// 僅在等待佇列中有意義：距離喚醒還剩幾個 tick
	RemainingTime int `json:"remaining_time"`
}

// NewProcess 建立一個新的行程記錄
func NewProcess(id ProcessID, foreground bool, command string) *Process {
	return &Process{
		ID:         id,
		Foreground: foreground,
		Command:    command,
	}
}

// Class 回傳行程類別
func (p *Process) Class() Class {
	if p.Foreground {
		return Foreground
	}
	return Background
}

// Label 回傳快照中使用的標籤，格式為 "<id><F|B>[*]"
func (p *Process) Label() string {
	label := strconv.Itoa(int(p.ID)) + string(p.Class())
	if p.Promoted {
		label += "*"
	}
	return label
}

// QueueView 佇列在某一時間點的一致性副本
//
// 由 DynamicQueue 在持有鎖的情況下產生，所有 Process 都是深拷貝，
// 呼叫端可以任意讀取而不影響佇列本身。
type QueueView struct {
	Running      int       `json:"running"`       // 背景清單長度（bg_count）
	ProcessCount int       `json:"process_count"` // fg + bg + wait 總數
	Background   []Process `json:"background"`    // bottom → top
	Foreground   []Process `json:"foreground"`    // bottom → top
	Waiting      []Process `json:"waiting"`       // 依 ID 遞增排序
	TakenAt      time.Time `json:"taken_at"`      // 快照時間
}
