// Package tui implements the activity model, reducer, and virtual-terminal
// renderer for devenv's terminal UI (spec.md §4.D), following the
// Elm-Architecture shape of the original devenv-tui crate: a pure reducer
// over a Model, a separate render-state struct for keyboard-driven UI state,
// and a renderer that diffs against a virtual terminal rather than
// reprinting the screen on every tick.
package tui

import (
	"time"

	"github.com/banksean/devenv/activity"
)

const logRingCap = 50

// ActivityState mirrors an open-or-completed activity the reducer tracks.
type ActivityState struct {
	ID       uint64
	ParentID *uint64
	Kind     activity.Kind
	Name     string
	Phase    string

	StartedAt time.Time
	Done      bool
	Outcome   activity.Outcome
	Duration  time.Duration

	// Progress snapshot, meaning depends on Kind: counts for Build/Task,
	// bytes for Fetch.
	ProgressDone     uint64
	ProgressExpected *uint64

	// Fetch-only instantaneous transfer-rate estimate, bytes/sec.
	lastBytes     uint64
	lastSampledAt time.Time
	TransferRate  float64

	Log []string // bounded ring, newest last, cap logRingCap
}

func (a *ActivityState) appendLog(line string) {
	a.Log = append(a.Log, line)
	if over := len(a.Log) - logRingCap; over > 0 {
		a.Log = a.Log[over:]
	}
}

// Model is the reducer's pure state: every currently-known activity plus a
// root-ordered display list and an outcome summary. It carries no render
// concerns (spec.md §4.D: "Renderer state is separate from model state").
type Model struct {
	Activities map[uint64]*ActivityState
	Roots      []uint64
	Summary    map[summaryKey]int
}

type summaryKey struct {
	Kind    activity.Kind
	Outcome activity.Outcome
}

// NewModel returns an empty model ready to receive events.
func NewModel() *Model {
	return &Model{
		Activities: make(map[uint64]*ActivityState),
		Summary:    make(map[summaryKey]int),
	}
}

// Apply is the reducer: (Model, activity.Event) -> Model, applied in arrival
// order. It mutates and returns m for convenient chaining in the consumer
// loop, matching devenv-tui's update() shape but collapsed onto the single
// activity.Event wire type devenv's Go activity bus emits rather than a
// separate enum per Nix subsystem.
func Apply(m *Model, ev activity.Event, now time.Time) *Model {
	if ev.ActivityKind == activity.KindMessage {
		// Standalone messages aren't tied to an open activity; callers that
		// want a log of them should subscribe to the raw bus separately.
		return m
	}

	switch ev.Event {
	case activity.EventStart:
		m.applyStart(ev, now)
	case activity.EventProgress:
		m.applyProgress(ev, now)
	case activity.EventPhase:
		if a := m.Activities[ev.ID]; a != nil {
			a.Phase = ev.Phase
		}
	case activity.EventLog:
		if a := m.Activities[ev.ID]; a != nil {
			a.appendLog(ev.Line)
		}
	case activity.EventComplete:
		m.applyComplete(ev, now)
	}
	return m
}

func (m *Model) applyStart(ev activity.Event, now time.Time) {
	a := &ActivityState{
		ID:        ev.ID,
		ParentID:  ev.ParentID,
		Kind:      ev.ActivityKind,
		Name:      activityName(ev),
		StartedAt: now,
	}
	m.Activities[ev.ID] = a

	if ev.ParentID != nil {
		if parent := m.Activities[*ev.ParentID]; parent != nil {
			// Children are looked up by id, never back-pointers (spec.md
			// §4 edge-case notes on cyclic parent/child relationships).
			return
		}
	}
	m.Roots = append(m.Roots, ev.ID)
}

func activityName(ev activity.Event) string {
	switch ev.ActivityKind {
	case activity.KindBuild:
		return ev.DerivationPath
	case activity.KindFetch:
		return ev.URL
	case activity.KindEvaluate, activity.KindTask, activity.KindCommand, activity.KindOperation:
		return ev.Name
	default:
		return ""
	}
}

func (m *Model) applyProgress(ev activity.Event, now time.Time) {
	a := m.Activities[ev.ID]
	if a == nil {
		return
	}
	if a.Kind == activity.KindFetch {
		delta := now.Sub(a.lastSampledAt)
		if !a.lastSampledAt.IsZero() && delta > 0 {
			bytesDelta := float64(ev.Current - a.lastBytes)
			a.TransferRate = bytesDelta / delta.Seconds()
		}
		a.lastBytes = ev.Current
		a.lastSampledAt = now
		a.ProgressDone = ev.Current
		if ev.Total != nil {
			a.ProgressExpected = ev.Total
		}
		return
	}
	a.ProgressDone = ev.Done
	if ev.Expected != 0 {
		expected := ev.Expected
		a.ProgressExpected = &expected
	}
}

func (m *Model) applyComplete(ev activity.Event, now time.Time) {
	a := m.Activities[ev.ID]
	if a == nil {
		return
	}
	a.Done = true
	a.Outcome = ev.Outcome
	a.Duration = now.Sub(a.StartedAt)

	m.Summary[summaryKey{Kind: a.Kind, Outcome: a.Outcome}]++

	if over := len(a.Log) - logRingCap; over > 0 {
		a.Log = a.Log[over:]
	}
}
