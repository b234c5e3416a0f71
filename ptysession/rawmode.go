package ptysession

import (
	"os"

	"golang.org/x/term"
)

// RawModeGuard switches stdin into raw mode for the lifetime of the shell
// session and restores the saved termios on Release, on every exit path
// (spec.md §4.F: "Guaranteed release on all exit paths"). A no-op when
// stdin isn't a TTY, matching containers.go's term.IsTerminal check before
// deciding whether to bother with a PTY at all.
type RawModeGuard struct {
	fd    int
	state *term.State
}

// NewRawModeGuard saves the current termios and switches stdin to raw mode.
func NewRawModeGuard() (*RawModeGuard, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &RawModeGuard{fd: fd}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawModeGuard{fd: fd, state: state}, nil
}

// Release restores the termios saved at construction. Safe to call more
// than once; only the first call has any effect.
func (g *RawModeGuard) Release() error {
	if g == nil || g.state == nil {
		return nil
	}
	state := g.state
	g.state = nil
	return term.Restore(g.fd, state)
}
