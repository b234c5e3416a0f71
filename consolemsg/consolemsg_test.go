package consolemsg

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/banksean/devenv/activity"
)

func TestTerminalMessengerWritesDimmedLine(t *testing.T) {
	var buf bytes.Buffer
	m := NewTerminalMessenger(&buf, nil)

	m.Message(context.Background(), "process web restarted")

	got := buf.String()
	if !strings.Contains(got, "process web restarted") {
		t.Fatalf("expected message text in output, got %q", got)
	}
	if !strings.HasPrefix(got, "\033[90m") {
		t.Fatalf("expected dimmed ANSI prefix, got %q", got)
	}
}

func TestTerminalMessengerNilWriterDoesNotPanic(t *testing.T) {
	m := NewTerminalMessenger(nil, nil)
	m.Message(context.Background(), "no writer attached")
}

func TestTerminalMessengerEmitsActivityMessage(t *testing.T) {
	events := activity.Register()
	defer activity.Unregister()

	m := NewTerminalMessenger(nil, nil)
	m.Message(context.Background(), "daemon shutting down")

	select {
	case ev := <-events:
		if ev.ActivityKind != activity.KindMessage {
			t.Fatalf("expected a Message event, got %v", ev.ActivityKind)
		}
		if ev.Text != "daemon shutting down" {
			t.Fatalf("expected text %q, got %q", "daemon shutting down", ev.Text)
		}
	default:
		t.Fatal("expected an activity event to have been emitted")
	}
}

func TestNullMessengerDoesNotPanic(t *testing.T) {
	m := NewNullMessenger()
	m.Message(context.Background(), "swallowed")
}
