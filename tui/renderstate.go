package tui

import "time"

// RenderState is UI-only state driven by keyboard messages; it never
// participates in the Model reducer (spec.md §4.D: "Keyboard messages ...
// mutate only render state").
type RenderState struct {
	SelectedActivity *uint64
	ShowDetails      bool
	ShowExpandedLogs bool

	SpinnerFrame      int
	LastSpinnerUpdate time.Time
}

var spinnerFrames = [...]string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerTick = 100 * time.Millisecond // ~10 Hz, spec.md §4.D

func NewRenderState() *RenderState {
	return &RenderState{}
}

// Tick advances the spinner on a fixed wall-clock cadence independent of
// event arrival; returns whether the frame actually changed (callers use
// this to decide whether a redraw is owed this tick).
func (r *RenderState) Tick(now time.Time) bool {
	if r.LastSpinnerUpdate.IsZero() || now.Sub(r.LastSpinnerUpdate) >= spinnerTick {
		r.SpinnerFrame = (r.SpinnerFrame + 1) % len(spinnerFrames)
		r.LastSpinnerUpdate = now
		return true
	}
	return false
}

func (r *RenderState) Spinner() string {
	return spinnerFrames[r.SpinnerFrame]
}

// Select, ClearSelection, ToggleDetails, ToggleExpandedLogs mirror the
// keyboard message handlers of the Rust update() function 1:1, kept as
// small named methods rather than funneled through a generic message enum
// — Go's switch over concrete message structs adds no clarity over direct
// calls for a message set this small.
func (r *RenderState) Select(id uint64)    { r.SelectedActivity = &id }
func (r *RenderState) ClearSelection()     { r.SelectedActivity = nil }
func (r *RenderState) ToggleDetails()      { r.ShowDetails = !r.ShowDetails }
func (r *RenderState) ToggleExpandedLogs() { r.ShowExpandedLogs = !r.ShowExpandedLogs }

// StatusLineState is the shell-session status line's state machine
// (spec.md §4.D/§4.F).
type StatusLineState int

const (
	StatusWatching StatusLineState = iota
	StatusBuilding
	StatusReloadReady
	StatusBuildFailed
	StatusPaused
)

func (s StatusLineState) String() string {
	switch s {
	case StatusWatching:
		return "watching"
	case StatusBuilding:
		return "building"
	case StatusReloadReady:
		return "reload-ready"
	case StatusBuildFailed:
		return "build-failed"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}
