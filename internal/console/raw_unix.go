//go:build unix

package console

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// RawTTY keeps fd in raw mode until its Restore method is called, the same term.MakeRaw/term.Restore pairing cmd/cc's main.go
// uses around an interactive guest console.
type RawTTY struct {
	fd       int
	oldState *term.State
}

// NewRaw puts f into raw mode if it is a terminal and returns a UART
// writing to it plus the RawTTY whose Restore undoes the mode change.
// If f is not a terminal, it returns a plain (non-raw) UART and a no-op
// RawTTY.
func NewRaw(f *os.File, verbose bool) (*UART, *RawTTY, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return New(f, verbose), &RawTTY{fd: fd}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, fmt.Errorf("console: enable raw mode: %w", err)
	}
	return New(f, verbose), &RawTTY{fd: fd, oldState: oldState}, nil
}

// Restore returns the terminal to its prior mode. A no-op if the console
// was never put into raw mode.
func (r *RawTTY) Restore() error {
	if r.oldState == nil {
		return nil
	}
	return term.Restore(r.fd, r.oldState)
}
