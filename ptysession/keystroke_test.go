package ptysession

import (
	"bytes"
	"testing"
)

func TestTogglePauseDetected(t *testing.T) {
	s := NewKeystrokeScanner()
	forward, events := s.Scan([]byte{escByte, ctrlD})
	if len(forward) != 0 {
		t.Fatalf("expected sequence fully consumed, got forward=%v", forward)
	}
	if len(events) != 1 || events[0] != KeystrokeTogglePause {
		t.Fatalf("expected TogglePause, got %v", events)
	}
}

func TestToggleErrorOverlayDetected(t *testing.T) {
	s := NewKeystrokeScanner()
	_, events := s.Scan([]byte{escByte, ctrlE})
	if len(events) != 1 || events[0] != KeystrokeToggleErrorOverlay {
		t.Fatalf("expected ToggleErrorOverlay, got %v", events)
	}
}

func TestOrdinaryBytesPassThroughUnchanged(t *testing.T) {
	s := NewKeystrokeScanner()
	forward, events := s.Scan([]byte("ls -la\n"))
	if !bytes.Equal(forward, []byte("ls -la\n")) {
		t.Fatalf("expected unchanged passthrough, got %q", forward)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}

func TestEscNotFollowedByCompoundIsForwarded(t *testing.T) {
	s := NewKeystrokeScanner()
	// ESC then a regular arrow-key sequence byte: not a recognized
	// compound, so the withheld ESC must still reach the PTY.
	forward, events := s.Scan([]byte{escByte, '['})
	if !bytes.Equal(forward, []byte{escByte, '['}) {
		t.Fatalf("expected ESC [ forwarded unchanged, got %v", forward)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}

func TestCompoundSequenceSplitAcrossScans(t *testing.T) {
	s := NewKeystrokeScanner()
	forward1, events1 := s.Scan([]byte{escByte})
	if len(forward1) != 0 || len(events1) != 0 {
		t.Fatalf("expected nothing yet, got forward=%v events=%v", forward1, events1)
	}
	forward2, events2 := s.Scan([]byte{ctrlD})
	if len(forward2) != 0 {
		t.Fatalf("expected consumed, got %v", forward2)
	}
	if len(events2) != 1 || events2[0] != KeystrokeTogglePause {
		t.Fatalf("expected TogglePause across the split, got %v", events2)
	}
}

func TestDoubleEscForwardsFirstAndReevaluatesSecond(t *testing.T) {
	s := NewKeystrokeScanner()
	forward, events := s.Scan([]byte{escByte, escByte, ctrlD})
	if !bytes.Equal(forward, []byte{escByte}) {
		t.Fatalf("expected first ESC forwarded, got %v", forward)
	}
	if len(events) != 1 || events[0] != KeystrokeTogglePause {
		t.Fatalf("expected the second ESC to pair with Ctrl-D, got %v", events)
	}
}
