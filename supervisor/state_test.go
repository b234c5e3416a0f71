package supervisor

import (
	"testing"
	"time"
)

func TestReadyRetiresStartupDeadlineAndArmsWatchdog(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", StartupTimeout: 5 * time.Second, WatchdogTimeout: 2 * time.Second}, now)

	if d := s.NextDeadline(); d == nil || !s.IsStartupDeadline(*d) {
		t.Fatalf("expected startup deadline armed before Ready")
	}

	s.OnEvent(Event{Kind: EventReady}, now.Add(time.Second))

	d := s.NextDeadline()
	if d == nil {
		t.Fatal("expected watchdog deadline armed after Ready")
	}
	if s.IsStartupDeadline(*d) {
		t.Fatal("expected startup deadline retired after Ready")
	}
}

func TestFileChangeRestartsWithoutConsumingRestartBudget(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", RestartWindow: time.Minute, MaxRestarts: 1}, now)

	for i := 0; i < 5; i++ {
		action := s.OnEvent(Event{Kind: EventFileChange}, now)
		if action.Kind != ActionRestart {
			t.Fatalf("iteration %d: expected Restart for FileChange, got %v", i, action.Kind)
		}
	}
	if s.RestartCount() != 0 {
		t.Fatalf("expected FileChange to bypass the restart-rate counter, got count %d", s.RestartCount())
	}
}

// Mirrors spec.md's supervisor give-up example almost exactly: max_restarts
// of 2 tolerates ProcessExit(Failure) at t=0,1,2 (3 restarts, matching
// invariant 7's restart_count <= max_restarts+1) and gives up on the 4th.
func TestProcessExitGivesUpAfterMaxRestartsWithinWindow(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", RestartWindow: 10 * time.Second, MaxRestarts: 2}, now)

	a1 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now)
	a2 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now.Add(time.Second))
	a3 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now.Add(2*time.Second))
	a4 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now.Add(3*time.Second))

	if a1.Kind != ActionRestart || a2.Kind != ActionRestart || a3.Kind != ActionRestart {
		t.Fatalf("expected first three failures to restart, got %v, %v, %v", a1.Kind, a2.Kind, a3.Kind)
	}
	if a4.Kind != ActionGiveUp {
		t.Fatalf("expected fourth failure within window to give up, got %v", a4.Kind)
	}
}

func TestRestartWindowSlidesOldRestartsOut(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", RestartWindow: 10 * time.Second, MaxRestarts: 0}, now)

	a1 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now)
	if a1.Kind != ActionRestart {
		t.Fatalf("expected first restart to be allowed, got %v", a1.Kind)
	}

	// Same-window second failure should give up: max_restarts=0 allows
	// exactly one restart per window (invariant 7: count <= max_restarts+1).
	a2 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now.Add(time.Second))
	if a2.Kind != ActionGiveUp {
		t.Fatalf("expected second failure within window to give up, got %v", a2.Kind)
	}

	// Once the window has fully elapsed, the earlier restart falls out and
	// a fresh restart is allowed again.
	a3 := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitFailure}, now.Add(11*time.Second))
	if a3.Kind != ActionRestart {
		t.Fatalf("expected restart to be allowed again once the window elapsed, got %v", a3.Kind)
	}
}

func TestProcessExitSuccessIsNotARestartTrigger(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", RestartWindow: time.Minute, MaxRestarts: 1}, now)

	action := s.OnEvent(Event{Kind: EventProcessExit, ExitStatus: ExitSuccess}, now)
	if action.Kind != ActionNone {
		t.Fatalf("expected a clean exit to take no action, got %v", action.Kind)
	}
	if s.RestartCount() != 0 {
		t.Fatalf("expected a clean exit not to count against the restart budget")
	}
}

func TestWatchdogTimeoutAfterMissedPing(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", WatchdogTimeout: time.Second, RestartWindow: time.Minute, MaxRestarts: 3}, now)
	s.OnEvent(Event{Kind: EventReady}, now)

	action := s.OnEvent(Event{Kind: EventWatchdogTimeout}, now.Add(2*time.Second))
	if action.Kind != ActionRestart {
		t.Fatalf("expected watchdog timeout to trigger a restart, got %v", action.Kind)
	}
}

func TestOnRestartCompleteRearmsStartupDeadline(t *testing.T) {
	now := time.Now()
	s := New(Config{Name: "web", StartupTimeout: time.Second}, now)
	s.OnEvent(Event{Kind: EventReady}, now)

	s.OnRestartComplete(now.Add(time.Second))

	d := s.NextDeadline()
	if d == nil || !s.IsStartupDeadline(*d) {
		t.Fatal("expected restart to re-arm the startup deadline")
	}
}
