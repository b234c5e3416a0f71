package ptysession

import (
	"bytes"
	"testing"
)

func TestDetectsAltScreenEnter(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?1049h"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].EntersAltScreen() || !events[0].HasForwardedMode() {
		t.Fatal("expected alt-screen enter + forwarded mode")
	}
	if !bytes.Equal(events[0].Raw, []byte("\x1b[?1049h")) {
		t.Fatalf("unexpected raw bytes: %q", events[0].Raw)
	}
}

func TestDetectsAltScreenExit(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?1049l"))
	if len(events) != 1 || !events[0].ExitsAltScreen() || !events[0].HasForwardedMode() {
		t.Fatal("expected alt-screen exit + forwarded mode")
	}
}

func TestDetectsMouseTracking(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?1000h"))
	if len(events) != 1 || !events[0].HasForwardedMode() || events[0].EntersAltScreen() {
		t.Fatal("expected mouse tracking, forwarded, not alt-screen")
	}
	if len(events[0].Modes) != 1 || events[0].Modes[0] != 1000 {
		t.Fatalf("expected modes [1000], got %v", events[0].Modes)
	}
}

func TestHandlesCompoundSequence(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?1049;1006h"))
	if len(events) != 1 || !events[0].EntersAltScreen() {
		t.Fatal("expected compound sequence to enter alt screen")
	}
	if len(events[0].Modes) != 2 || events[0].Modes[0] != 1049 || events[0].Modes[1] != 1006 {
		t.Fatalf("unexpected modes: %v", events[0].Modes)
	}
}

func TestHandlesSplitAcrossBuffers(t *testing.T) {
	s := NewDecModeScanner()
	if events := s.Scan([]byte("\x1b[?10")); len(events) != 0 {
		t.Fatalf("expected no events on partial sequence, got %d", len(events))
	}
	events := s.Scan([]byte("49h"))
	if len(events) != 1 || !events[0].EntersAltScreen() {
		t.Fatal("expected sequence completed across buffers")
	}
	if !bytes.Equal(events[0].Raw, []byte("\x1b[?1049h")) {
		t.Fatalf("unexpected raw bytes: %q", events[0].Raw)
	}
}

func TestHandlesSplitAtEveryByte(t *testing.T) {
	s := NewDecModeScanner()
	seq := []byte("\x1b[?1049h")
	for i, b := range seq {
		events := s.Scan([]byte{b})
		if i < len(seq)-1 {
			if len(events) != 0 {
				t.Fatalf("byte %d: expected no event yet, got %d", i, len(events))
			}
		} else {
			if len(events) != 1 || !events[0].EntersAltScreen() {
				t.Fatalf("byte %d: expected completed alt-screen event", i)
			}
		}
	}
}

func TestIgnoresNonDecCsi(t *testing.T) {
	s := NewDecModeScanner()
	if events := s.Scan([]byte("\x1b[1;31m")); len(events) != 0 {
		t.Fatalf("expected SGR sequence to be ignored, got %d events", len(events))
	}
}

func TestUnknownDecModesAreNotForwarded(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?25l"))
	if len(events) != 1 || events[0].HasForwardedMode() {
		t.Fatal("expected mode 25 to be recognized but not forwarded")
	}
}

func TestMultipleSequencesInOneBuffer(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?1049h\x1b[?1006h"))
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].EntersAltScreen() {
		t.Fatal("expected first event to enter alt screen")
	}
	if len(events[1].Modes) != 1 || events[1].Modes[0] != 1006 {
		t.Fatalf("unexpected second event modes: %v", events[1].Modes)
	}
}

func TestSequencesInterleavedWithText(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("hello\x1b[?1049hworld\x1b[?1049l"))
	if len(events) != 2 || !events[0].EntersAltScreen() || !events[1].ExitsAltScreen() {
		t.Fatal("expected enter then exit, ignoring interleaved text")
	}
}

func TestAbortsOnInvalidByteInParams(t *testing.T) {
	s := NewDecModeScanner()
	if events := s.Scan([]byte("\x1b[?1049x")); len(events) != 0 {
		t.Fatalf("expected invalid terminator to abort, got %d events", len(events))
	}
	events := s.Scan([]byte("\x1b[?1049h"))
	if len(events) != 1 {
		t.Fatal("expected scanner to recover and parse the next sequence")
	}
}

func TestMode47IsAltScreen(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?47h"))
	if len(events) != 1 || !events[0].EntersAltScreen() {
		t.Fatal("expected mode 47 to be treated as alt screen")
	}
}

func TestBracketedPasteMode(t *testing.T) {
	s := NewDecModeScanner()
	events := s.Scan([]byte("\x1b[?2004h"))
	if len(events) != 1 || !events[0].HasForwardedMode() {
		t.Fatal("expected bracketed paste mode to be forwarded")
	}
	if len(events[0].Modes) != 1 || events[0].Modes[0] != 2004 {
		t.Fatalf("unexpected modes: %v", events[0].Modes)
	}
}
