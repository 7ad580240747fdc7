// Package command holds the shell-side helpers that run after a simulation:
// a whitespace tokenizer and an executor that echoes the command it was given.
package command

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultLine is executed after a simulation when no other command is configured.
const DefaultLine = "example command"

// ErrEmptyCommand is returned when there is nothing to execute.
var ErrEmptyCommand = errors.New("empty command")

// Parse splits line into whitespace-separated words.
func Parse(line string) []string {
	return strings.Fields(line)
}

// Exec echoes args to w as a single write, each word followed by one space.
func Exec(w io.Writer, args []string) error {
	if len(args) == 0 {
		return ErrEmptyCommand
	}

	var b strings.Builder
	b.WriteString("Executing command: ")
	for _, arg := range args {
		b.WriteString(arg)
		b.WriteByte(' ')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("exec %q: %w", args[0], err)
	}
	return nil
}

// Run parses line and executes it.
func Run(w io.Writer, line string) error {
	return Exec(w, Parse(line))
}
