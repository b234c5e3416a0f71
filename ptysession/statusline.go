package ptysession

import (
	"fmt"
	"io"
	"time"

	"github.com/banksean/devenv/tui"
)

const spinnerInterval = 100 * time.Millisecond // spec.md §4.F / original SPINNER_INTERVAL_MS

var spinnerFrames = [...]byte{'|', '/', '-', '\\'}

// StatusLineState is the shell-session status line's live content: which
// of the five states it's in (spec.md line 112: watching/building/
// reload-ready/build-failed/paused) plus whatever detail that state
// carries (file count, error text, keybind hint).
type StatusLineState struct {
	State         tui.StatusLineState
	ChangedFiles  int
	Error         string
	ReloadKeybind string
	spinnerFrame  int
	lastTick      time.Time
}

func NewStatusLineState() *StatusLineState {
	return &StatusLineState{State: tui.StatusWatching}
}

func (s *StatusLineState) SetWatching(fileCount int) {
	*s = StatusLineState{State: tui.StatusWatching, ChangedFiles: fileCount}
}

func (s *StatusLineState) SetBuilding(changedFiles int) {
	*s = StatusLineState{State: tui.StatusBuilding, ChangedFiles: changedFiles}
}

func (s *StatusLineState) SetReloadReady(changedFiles int, keybind string) {
	*s = StatusLineState{State: tui.StatusReloadReady, ChangedFiles: changedFiles, ReloadKeybind: keybind}
}

func (s *StatusLineState) SetBuildFailed(changedFiles int, err string) {
	*s = StatusLineState{State: tui.StatusBuildFailed, ChangedFiles: changedFiles, Error: err}
}

func (s *StatusLineState) SetPaused() {
	*s = StatusLineState{State: tui.StatusPaused}
}

func (s *StatusLineState) Clear() {
	*s = StatusLineState{State: tui.StatusWatching}
}

// tick advances the spinner on its own cadence, independent of the
// building flag's on/off transitions, and reports whether it actually
// moved (callers use this to decide whether the status line needs a
// redraw on an otherwise idle select branch).
func (s *StatusLineState) tick(now time.Time) bool {
	if s.State != tui.StatusBuilding {
		return false
	}
	if s.lastTick.IsZero() || now.Sub(s.lastTick) >= spinnerInterval {
		s.spinnerFrame = (s.spinnerFrame + 1) % len(spinnerFrames)
		s.lastTick = now
		return true
	}
	return false
}

func (s *StatusLineState) text(showErrorOverlay bool) string {
	switch s.State {
	case tui.StatusBuilding:
		return fmt.Sprintf(" %c building (%d file%s changed)...", spinnerFrames[s.spinnerFrame], s.ChangedFiles, plural(s.ChangedFiles))
	case tui.StatusReloadReady:
		return fmt.Sprintf(" reload ready (%d file%s changed) — press %s to apply ", s.ChangedFiles, plural(s.ChangedFiles), s.ReloadKeybind)
	case tui.StatusBuildFailed:
		if showErrorOverlay {
			return " build failed: " + s.Error
		}
		return " build failed — press Esc+Ctrl-E for details "
	case tui.StatusPaused:
		return " paused "
	default:
		if s.ChangedFiles == 0 {
			return " watching "
		}
		return fmt.Sprintf(" watching (%d file%s changed) ", s.ChangedFiles, plural(s.ChangedFiles))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// StatusLine draws StatusLineState into the reserved bottom row of a
// rows x cols terminal, protecting it with a DECSTBM scroll region so
// shell output never scrolls over it (spec.md §4.F).
type StatusLine struct {
	enabled          bool
	showErrorOverlay bool
	state            *StatusLineState
}

func NewStatusLine(enabled bool) *StatusLine {
	return &StatusLine{enabled: enabled, state: NewStatusLineState()}
}

func (sl *StatusLine) State() *StatusLineState { return sl.state }

func (sl *StatusLine) ToggleErrorOverlay() { sl.showErrorOverlay = !sl.showErrorOverlay }

// Tick advances the spinner; callers redraw only when it reports true.
func (sl *StatusLine) Tick(now time.Time) bool { return sl.state.tick(now) }

// SetScrollRegion restricts the shell's own scrolling to rows 1..rows-1
// (1-indexed), reserving the last row for the status line. Called right
// after the PTY is sized and again after each terminal resize.
func (sl *StatusLine) SetScrollRegion(w io.Writer, rows, cols uint16) error {
	if !sl.enabled {
		return nil
	}
	_, err := fmt.Fprintf(w, "\x1b[1;%dr", rows-1)
	return err
}

// Draw repaints the reserved row without disturbing the cursor position
// the shell thinks it owns: save cursor, move to the reserved row, clear
// it, write the status text, restore cursor.
func (sl *StatusLine) Draw(w io.Writer, rows, cols uint16) error {
	if !sl.enabled {
		return nil
	}
	text := sl.state.text(sl.showErrorOverlay)
	if len(text) > int(cols) {
		text = text[:cols]
	}
	_, err := fmt.Fprintf(w, "\x1b7\x1b[%d;1H\x1b[2K%s\x1b8", rows, text)
	return err
}
