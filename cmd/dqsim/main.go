package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 初始化並執行 CLI 命令
// 3. 處理頂層錯誤與 panic recovery
//
// 編譯與執行：
//   go run ./cmd/dqsim
//   go run ./cmd/dqsim run --shell-interval 1s --monitor-interval 2s
//   go build -ldflags "-X main.version=1.0.0" -o bin/dqsim ./cmd/dqsim
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/dq-sim/internal/cli"
)

var version = "dev" // 由 CI 注入

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	if version != "dev" {
		rootCmd.Version = version
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
