package supervisor

import (
	"testing"
	"time"
)

func TestParseNotifyDatagramReady(t *testing.T) {
	events := parseNotifyDatagram([]byte("READY=1\n"))
	if len(events) != 1 || events[0].Kind != EventReady {
		t.Fatalf("expected a single Ready event, got %+v", events)
	}
}

func TestParseNotifyDatagramMultipleLines(t *testing.T) {
	events := parseNotifyDatagram([]byte("WATCHDOG=1\nEXTEND_TIMEOUT_USEC=500000\n"))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != EventWatchdogPing {
		t.Fatalf("expected WatchdogPing first, got %v", events[0].Kind)
	}
	if events[1].Kind != EventExtendTimeout || events[1].ExtendTimeout != 500*time.Millisecond {
		t.Fatalf("expected ExtendTimeout of 500ms, got %+v", events[1])
	}
}

func TestParseNotifyDatagramIgnoresStatusAndStopping(t *testing.T) {
	events := parseNotifyDatagram([]byte("STATUS=starting up\nSTOPPING=1\n"))
	if len(events) != 0 {
		t.Fatalf("expected STATUS/STOPPING to be informational-only, got %+v", events)
	}
}

func TestParseNotifyDatagramWatchdogTrigger(t *testing.T) {
	events := parseNotifyDatagram([]byte("WATCHDOG=trigger\n"))
	if len(events) != 1 || events[0].Kind != EventWatchdogTrigger {
		t.Fatalf("expected WatchdogTrigger, got %+v", events)
	}
}
