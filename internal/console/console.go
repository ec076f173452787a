// Package console is the boot log sink: the startup banner, the
// "Jumping to User Space!" handoff announcement, and an optional verbose
// untyped-insertion trace (spec.md §6), styled with
// github.com/charmbracelet/x/ansi the way internal/term/terminal.go in the
// teacher pack reaches for that package for terminal-facing text instead
// of hand-rolled escape sequences.
package console

import (
	"fmt"
	"io"

	"github.com/charmbracelet/x/ansi"
)

// UART wraps an io.Writer boot log sink. On real hardware w is a PL011
// UART MMIO writer; under a hosted harness or cmd/bootsim it is any
// io.Writer (a bytes.Buffer in tests, os.Stdout for a human operator).
type UART struct {
	w       io.Writer
	verbose bool
}

// New wraps w as a UART console sink. verbose enables the untyped-carving
// trace lines.
func New(w io.Writer, verbose bool) *UART {
	return &UART{w: w, verbose: verbose}
}

// Banner prints the startup banner line, bolded.
func (u *UART) Banner(msg string) {
	fmt.Fprintf(u.w, "%s\r\n", ansi.Bold(msg))
}

// Handoff prints the "Jumping to User Space!" announcement spec.md §6
// names explicitly.
func (u *UART) Handoff() {
	fmt.Fprintf(u.w, "%s\r\n", ansi.Bold("Jumping to User Space!"))
}

// Errorf prints a fatal boot error; boot.Run calls this exactly once,
// immediately before returning the same error to its caller.
func (u *UART) Errorf(format string, args ...any) {
	fmt.Fprintf(u.w, "%s\r\n", ansi.Bold(fmt.Sprintf("boot error: "+format, args...)))
}

// Tracef prints a single verbose trace line (e.g. one per carved untyped
// region) if verbose tracing is enabled; a no-op otherwise.
func (u *UART) Tracef(format string, args ...any) {
	if !u.verbose {
		return
	}
	fmt.Fprintf(u.w, "%s\r\n", fmt.Sprintf(format, args...))
}

// Verbose reports whether verbose tracing is enabled.
func (u *UART) Verbose() bool { return u.verbose }

// Writer exposes the underlying sink for callers (e.g. the progress bar in
// cmd/bootsim) that need to multiplex additional output onto the same
// stream.
func (u *UART) Writer() io.Writer { return u.w }
