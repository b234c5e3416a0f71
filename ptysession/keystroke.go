package ptysession

// KeystrokeEvent is an internal command recognized from the stdin byte
// stream and consumed rather than forwarded to the PTY (spec.md §4.F).
type KeystrokeEvent int

const (
	KeystrokeTogglePause KeystrokeEvent = iota
	KeystrokeToggleErrorOverlay
)

const (
	escByte = 0x1b
	ctrlD   = 0x04
	ctrlE   = 0x05
)

// KeystrokeScanner detects the two compound keystrokes ESC+Ctrl-D
// (toggle-pause) and ESC+Ctrl-E (toggle-error-overlay) in a stream of
// stdin bytes that may arrive split across arbitrary read boundaries.
// Recognized sequences are removed from the output; everything else
// passes through unchanged, in order.
type KeystrokeScanner struct {
	pendingEsc bool
}

func NewKeystrokeScanner() *KeystrokeScanner {
	return &KeystrokeScanner{}
}

// Scan splits data into the bytes that should still reach the PTY and the
// internal events the compound keystrokes produced.
func (s *KeystrokeScanner) Scan(data []byte) (forward []byte, events []KeystrokeEvent) {
	forward = make([]byte, 0, len(data))
	for _, b := range data {
		if s.pendingEsc {
			s.pendingEsc = false
			switch b {
			case ctrlD:
				events = append(events, KeystrokeTogglePause)
				continue
			case ctrlE:
				events = append(events, KeystrokeToggleErrorOverlay)
				continue
			default:
				// Not a recognized compound sequence: the ESC we withheld
				// belongs to the PTY after all.
				forward = append(forward, escByte)
			}
		}
		if b == escByte {
			s.pendingEsc = true
			continue
		}
		forward = append(forward, b)
	}
	return forward, events
}
