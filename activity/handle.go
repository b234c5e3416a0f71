package activity

import "sync"

// Handle is the live guard returned by a builder's Start(). It is the Go
// stand-in for the original's Drop-based Activity: Go has no destructors, so
// every code path that creates a Handle MUST call Finish (directly, or via
// Do below). Only the first call emits the Complete event, carrying the
// outcome recorded so far (Success if nothing else was set).
//
// Handle is safe to use from multiple goroutines: outcome updates and
// progress/log/phase calls may race from concurrent workers, same contract
// as the original's Mutex<ActivityOutcome>.
type Handle struct {
	mu      sync.Mutex
	id      uint64
	kind    Kind
	level   Level
	outcome Outcome
	done    bool
}

func newHandle(kind Kind, level Level, id uint64) *Handle {
	return &Handle{id: id, kind: kind, level: level, outcome: OutcomeSuccess}
}

// newTracedHandle is newHandle plus an OpenTelemetry span covering the
// activity's lifetime, started as a child of parent's span when one is
// already live.
func newTracedHandle(kind Kind, level Level, id uint64, name string, parent *uint64) *Handle {
	startSpan(kind, name, id, parent)
	return newHandle(kind, level, id)
}

// ID returns the activity's id.
func (a *Handle) ID() uint64 { return a.id }

// Level returns the activity's level.
func (a *Handle) Level() Level { return a.level }

func (a *Handle) setOutcome(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.done {
		a.outcome = o
	}
}

func (a *Handle) Fail()             { a.setOutcome(OutcomeFailed) }
func (a *Handle) Cancel()           { a.setOutcome(OutcomeCancelled) }
func (a *Handle) Cached()           { a.setOutcome(OutcomeCached) }
func (a *Handle) Skipped()          { a.setOutcome(OutcomeSkipped) }
func (a *Handle) DependencyFailed() { a.setOutcome(OutcomeDependencyFailed) }

// Finish emits the Complete event matching this activity's kind, carrying
// whatever outcome was last set (Success by default). It is idempotent:
// only the first call emits an event, so callers may defer it unconditionally
// even alongside an explicit call on the success path.
func (a *Handle) Finish() {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	a.done = true
	outcome := a.outcome
	a.mu.Unlock()

	endSpan(a.id, outcome)

	send(Event{
		ActivityKind: a.kind,
		Event:        EventComplete,
		ID:           a.id,
		Timestamp:    Now(),
		Outcome:      outcome,
	})
}

// Progress updates done/expected (Build, Task, Operation only; silently
// dropped otherwise, matching the "calls against a kind that doesn't support
// the variant are silently dropped" contract).
func (a *Handle) Progress(done, expected uint64, detail *string) {
	switch a.kind {
	case KindBuild:
		send(Event{ActivityKind: KindBuild, Event: EventProgress, ID: a.id, Timestamp: Now(), Done: done, Expected: expected})
	case KindTask:
		send(Event{ActivityKind: KindTask, Event: EventProgress, ID: a.id, Timestamp: Now(), Done: done, Expected: expected})
	case KindOperation:
		send(Event{ActivityKind: KindOperation, Event: EventProgress, ID: a.id, Timestamp: Now(), Done: done, Expected: expected, Detail: detail})
	default:
	}
}

// ProgressBytes updates a Fetch activity's byte counter; total nil means
// indeterminate progress.
func (a *Handle) ProgressBytes(current uint64, total *uint64) {
	if a.kind != KindFetch {
		return
	}
	send(Event{ActivityKind: KindFetch, Event: EventProgress, ID: a.id, Timestamp: Now(), Current: current, Total: total})
}

// Phase updates a Build activity's named phase.
func (a *Handle) Phase(phase string) {
	if a.kind != KindBuild {
		return
	}
	send(Event{ActivityKind: KindBuild, Event: EventPhase, ID: a.id, Timestamp: Now(), Phase: phase})
}

// Log appends a log line (Build, Evaluate, Task, Command, Operation).
func (a *Handle) Log(line string) {
	a.log(line, false)
}

// Error appends a log line flagged as an error.
func (a *Handle) Error(line string) {
	a.log(line, true)
}

func (a *Handle) log(line string, isError bool) {
	switch a.kind {
	case KindBuild, KindTask, KindCommand, KindOperation:
		send(Event{ActivityKind: a.kind, Event: EventLog, ID: a.id, Timestamp: Now(), Line: line, IsError: isError})
	case KindEvaluate:
		if !isError {
			send(Event{ActivityKind: KindEvaluate, Event: EventLog, ID: a.id, Timestamp: Now(), Line: line})
		}
	default:
	}
}

// Do runs f with the handle, finishing the activity afterward regardless of
// outcome — the ergonomic helper spec.md §9 calls for in place of a
// destructor: "a scoped helper that takes a closure and emits Complete after
// it returns". If f returns an error the activity is marked Failed before
// Finish fires, unless it already set a more specific outcome itself.
func Do(h *Handle, f func(*Handle) error) error {
	defer h.Finish()
	if err := f(h); err != nil {
		h.mu.Lock()
		if !h.done && h.outcome == OutcomeSuccess {
			h.outcome = OutcomeFailed
		}
		h.mu.Unlock()
		return err
	}
	return nil
}
