// Package consolemsg delivers one-off, out-of-band notices to whatever's
// attached to the user's terminal — "process web restarted (3rd time this
// minute)", "daemon shutting down" — the messages that don't belong to any
// single activity's start/complete lifecycle. Grounded on
// usermsg.go's UserMessenger (terminalMessenger/nullMessenger), generalized
// from sandbox-container notices to devenv's process-supervisor and daemon
// events, and additionally routed through activity.Message so a TUI
// consumer sees the same notice as a bare terminal writer does.
package consolemsg

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/banksean/devenv/activity"
)

// Messenger delivers a single notice string to the user.
type Messenger interface {
	Message(ctx context.Context, msg string)
}

// terminalMessenger writes directly to an io.Writer (a raw terminal, not
// the PTY-wrapped shell session) in dimmed color, the same escape sequence
// usermsg.go used.
type terminalMessenger struct {
	writer io.Writer
	scope  *activity.Scope
}

// NewTerminalMessenger builds a Messenger that writes to w (dimmed) and
// also emits an activity.Message on scope, so both a bare terminal and a
// TUI renderer subscribed to the activity bus see the same notice. scope
// may be nil if no activity scope is available yet.
func NewTerminalMessenger(w io.Writer, scope *activity.Scope) Messenger {
	return &terminalMessenger{writer: w, scope: scope}
}

func (tm *terminalMessenger) Message(ctx context.Context, msg string) {
	activity.Message(tm.scope, activity.LevelInfo, msg)
	if tm.writer == nil {
		slog.DebugContext(ctx, "consolemsg (no writer)", "msg", msg)
		return
	}
	fmt.Fprintln(tm.writer, "\033[90m"+msg+"\033[0m")
}

// nullMessenger discards every message except a debug log line, for
// non-interactive invocations (e.g. the daemon itself, with no attached
// terminal).
type nullMessenger struct{}

// NewNullMessenger builds a Messenger that drops every message.
func NewNullMessenger() Messenger {
	return &nullMessenger{}
}

func (nm *nullMessenger) Message(ctx context.Context, msg string) {
	slog.DebugContext(ctx, "consolemsg (null messenger)", "msg", msg)
}
