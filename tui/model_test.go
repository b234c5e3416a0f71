package tui

import (
	"testing"
	"time"

	"github.com/banksean/devenv/activity"
)

func ptr(u uint64) *uint64 { return &u }

func TestApplyStartInsertsRootActivity(t *testing.T) {
	m := NewModel()
	now := time.Now()
	Apply(m, activity.Event{ActivityKind: activity.KindBuild, Event: activity.EventStart, ID: 1, DerivationPath: "/nix/store/abc-foo"}, now)

	if len(m.Roots) != 1 || m.Roots[0] != 1 {
		t.Fatalf("expected activity 1 to be a root, got %v", m.Roots)
	}
	a := m.Activities[1]
	if a == nil {
		t.Fatal("expected activity to be tracked")
	}
	if a.Name != "/nix/store/abc-foo" {
		t.Fatalf("expected derivation path as name, got %q", a.Name)
	}
	if a.Done {
		t.Fatal("freshly started activity must not be done")
	}
}

func TestApplyProgressTracksFetchTransferRate(t *testing.T) {
	m := NewModel()
	t0 := time.Now()
	Apply(m, activity.Event{ActivityKind: activity.KindFetch, Event: activity.EventStart, ID: 1, URL: "https://example/pkg"}, t0)
	Apply(m, activity.Event{ActivityKind: activity.KindFetch, Event: activity.EventProgress, ID: 1, Current: 0}, t0)
	Apply(m, activity.Event{ActivityKind: activity.KindFetch, Event: activity.EventProgress, ID: 1, Current: 1024}, t0.Add(time.Second))

	a := m.Activities[1]
	if a.TransferRate != 1024 {
		t.Fatalf("expected 1024 B/s, got %f", a.TransferRate)
	}
}

func TestApplyCompleteUpdatesSummaryAndDuration(t *testing.T) {
	m := NewModel()
	t0 := time.Now()
	Apply(m, activity.Event{ActivityKind: activity.KindBuild, Event: activity.EventStart, ID: 1}, t0)
	Apply(m, activity.Event{ActivityKind: activity.KindBuild, Event: activity.EventComplete, ID: 1, Outcome: activity.OutcomeSuccess}, t0.Add(5*time.Second))

	a := m.Activities[1]
	if !a.Done {
		t.Fatal("expected activity to be marked done")
	}
	if a.Duration != 5*time.Second {
		t.Fatalf("expected 5s duration, got %v", a.Duration)
	}
	if m.Summary[summaryKey{Kind: activity.KindBuild, Outcome: activity.OutcomeSuccess}] != 1 {
		t.Fatal("expected summary counter to increment")
	}
}

func TestApplyStartWithParentDoesNotAddRoot(t *testing.T) {
	m := NewModel()
	now := time.Now()
	Apply(m, activity.Event{ActivityKind: activity.KindBuild, Event: activity.EventStart, ID: 1}, now)
	Apply(m, activity.Event{ActivityKind: activity.KindTask, Event: activity.EventStart, ID: 2, ParentID: ptr(1), Name: "child"}, now)

	if len(m.Roots) != 1 {
		t.Fatalf("expected only the parent to be a root, got %v", m.Roots)
	}
	if m.Activities[2].ParentID == nil || *m.Activities[2].ParentID != 1 {
		t.Fatal("expected child to resolve parent by id")
	}
}

func TestLogRingIsBounded(t *testing.T) {
	m := NewModel()
	now := time.Now()
	Apply(m, activity.Event{ActivityKind: activity.KindTask, Event: activity.EventStart, ID: 1, Name: "t"}, now)
	for i := 0; i < logRingCap+10; i++ {
		Apply(m, activity.Event{ActivityKind: activity.KindTask, Event: activity.EventLog, ID: 1, Line: "line"}, now)
	}
	if len(m.Activities[1].Log) != logRingCap {
		t.Fatalf("expected log ring capped at %d, got %d", logRingCap, len(m.Activities[1].Log))
	}
}

func TestRenderStateSpinnerTicksOnCadence(t *testing.T) {
	rs := NewRenderState()
	t0 := time.Now()
	if !rs.Tick(t0) {
		t.Fatal("first tick should always advance")
	}
	if rs.Tick(t0.Add(10 * time.Millisecond)) {
		t.Fatal("tick within the cadence window should not advance")
	}
	if !rs.Tick(t0.Add(150 * time.Millisecond)) {
		t.Fatal("tick past the cadence window should advance")
	}
}
