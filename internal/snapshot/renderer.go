package snapshot

// ============================================================================
// 職責說明：
// 1. 將佇列的一致性副本（types.QueueView）渲染為人類可讀的文字快照
// 2. 提供 JSON 格式（每個快照一行），方便其他工具解析
// 3. 每個快照只呼叫一次 w.Write，避免與其他輸出交錯
// ============================================================================

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ChuLiYu/dq-sim/pkg/types"
)

// ErrUnknownFormat 不支援的快照格式
var ErrUnknownFormat = errors.New("unknown snapshot format")

const separator = "---------------------------"

// Renderer 將佇列視圖寫入 sink
type Renderer interface {
	Render(w io.Writer, v types.QueueView) error
}

// RendererFunc 讓普通函式滿足 Renderer 介面
type RendererFunc func(w io.Writer, v types.QueueView) error

// Render 呼叫 f(w, v)
func (f RendererFunc) Render(w io.Writer, v types.QueueView) error {
	return f(w, v)
}

var (
	// Text 固定格式的文字快照（每個項目後的空白也是格式的一部分）
	Text Renderer = RendererFunc(renderText)
	// JSON 每個快照輸出一個 JSON 物件並換行
	JSON Renderer = RendererFunc(renderJSON)
)

// ByName 依名稱取得 renderer（"text" 或 "json"）
func ByName(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return Text, nil
	case "json":
		return JSON, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// renderText 產生下列格式：
//
//	Running: [2B]
//	---------------------------
//	DQ: (bottom) [1B] [3B]
//	P => [0F] (top)
//	---------------------------
//	WQ: [2F: 10s]
//	...
func renderText(w io.Writer, v types.QueueView) error {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Running: [%dB]\n", v.Running)
	buf.WriteString(separator + "\n")

	buf.WriteString("DQ: (bottom) ")
	for _, p := range v.Background {
		buf.WriteString("[" + p.Label() + "] ")
	}
	buf.WriteString("\nP => ")
	for _, p := range v.Foreground {
		buf.WriteString("[" + p.Label() + "] ")
	}
	buf.WriteString("(top)\n")
	buf.WriteString(separator + "\n")

	buf.WriteString("WQ: ")
	for _, p := range v.Waiting {
		fmt.Fprintf(&buf, "[%s: %ds] ", p.Label(), p.RemainingTime)
	}
	buf.WriteString("\n...\n")

	_, err := w.Write(buf.Bytes())
	return err
}

// jsonProcess JSON 輸出用的行程格式（多了 class 與 label，方便閱讀）
type jsonProcess struct {
	ID            types.ProcessID `json:"id"`
	Class         types.Class     `json:"class"`
	Command       string          `json:"command"`
	Promoted      bool            `json:"promoted"`
	RemainingTime int             `json:"remaining_time"`
	Label         string          `json:"label"`
}

type jsonView struct {
	Running      int           `json:"running"`
	ProcessCount int           `json:"process_count"`
	Background   []jsonProcess `json:"background"`
	Foreground   []jsonProcess `json:"foreground"`
	Waiting      []jsonProcess `json:"waiting"`
	TakenAt      string        `json:"taken_at"`
}

func toJSONProcesses(procs []types.Process) []jsonProcess {
	out := make([]jsonProcess, 0, len(procs))
	for i := range procs {
		p := &procs[i]
		out = append(out, jsonProcess{
			ID:            p.ID,
			Class:         p.Class(),
			Command:       p.Command,
			Promoted:      p.Promoted,
			RemainingTime: p.RemainingTime,
			Label:         p.Label(),
		})
	}
	return out
}

func renderJSON(w io.Writer, v types.QueueView) error {
	data, err := json.Marshal(jsonView{
		Running:      v.Running,
		ProcessCount: v.ProcessCount,
		Background:   toJSONProcesses(v.Background),
		Foreground:   toJSONProcesses(v.Foreground),
		Waiting:      toJSONProcesses(v.Waiting),
		TakenAt:      v.TakenAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = w.Write(append(data, '\n'))
	return err
}
