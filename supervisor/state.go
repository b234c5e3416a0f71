// Package supervisor implements the per-process supervision state machine:
// start, readiness probing, watchdog heartbeats, rate-limited restarts, and
// file-change reloads (spec.md §4.J). Grounded on
// devenv-processes/src/supervisor.rs's select loop and the Event/Action
// vocabulary it drives against a SupervisorState (that type itself isn't
// present in the pack; its API surface is reconstructed here from how
// supervisor.rs calls it and from spec.md §4.J's restart-policy text).
package supervisor

import (
	"strconv"
	"time"
)

// Event is one input to the state machine (spec.md §4.J).
type Event struct {
	Kind           EventKind
	ExitStatus     ExitStatus // valid when Kind == EventProcessExit
	ExtendTimeout  time.Duration // valid when Kind == EventExtendTimeout
}

type EventKind int

const (
	EventProcessExit EventKind = iota
	EventWatchdogTrigger
	EventWatchdogTimeout
	EventWatchdogPing
	EventReady
	EventExtendTimeout
	EventFileChange
	EventStartupTimeout
)

// ExitStatus discriminates a supervised process's exit outcome.
type ExitStatus int

const (
	ExitSuccess ExitStatus = iota
	ExitFailure
)

// ActionKind is what the supervision loop must do in response to an Event.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionRestart
	ActionGiveUp
)

// Action is the state machine's verdict for one Event.
type Action struct {
	Kind   ActionKind
	Reason string // set when Kind == ActionGiveUp
}

// Config parameterizes restart and timeout policy for one supervised
// process (spec.md §3 "Supervisor state").
type Config struct {
	Name             string
	RestartWindow    time.Duration // sliding window size
	MaxRestarts      int           // restarts allowed within RestartWindow
	StartupTimeout   time.Duration // 0 disables
	WatchdogTimeout  time.Duration // 0 disables; reset on each Ready/WatchdogPing/ExtendTimeout
}

// State is {config, restart count, window start, readiness-signaled flag,
// next deadline} (spec.md §3 "Supervisor state").
type State struct {
	cfg Config

	restartTimes []time.Time // restarts within the current sliding window
	readySignaled bool

	startupDeadline  *time.Time
	watchdogDeadline *time.Time
}

// New creates a State with a startup deadline already armed (if
// cfg.StartupTimeout is set), matching the original's construction at
// process spawn time.
func New(cfg Config, now time.Time) *State {
	s := &State{cfg: cfg}
	if cfg.StartupTimeout > 0 {
		d := now.Add(cfg.StartupTimeout)
		s.startupDeadline = &d
	}
	return s
}

// RestartCount returns the number of restarts recorded within the current
// sliding window.
func (s *State) RestartCount() int { return len(s.restartTimes) }

// NextDeadline returns the single timer the supervision loop should select
// against: the startup deadline while it is armed, otherwise the watchdog
// deadline. Ready retires the startup deadline and installs the watchdog
// one; a WatchdogPing or ExtendTimeout before Ready also arms the watchdog
// deadline, which then waits behind the startup one.
func (s *State) NextDeadline() *time.Time {
	if s.startupDeadline != nil {
		return s.startupDeadline
	}
	return s.watchdogDeadline
}

// IsStartupDeadline reports whether d is the currently-armed startup
// deadline, so the caller can tell a startup timeout apart from a
// watchdog timeout without the state machine needing to do it itself.
func (s *State) IsStartupDeadline(d time.Time) bool {
	return s.startupDeadline != nil && s.startupDeadline.Equal(d)
}

// OnEvent applies one Event and returns the Action the caller must take.
func (s *State) OnEvent(ev Event, now time.Time) Action {
	switch ev.Kind {
	case EventReady:
		s.startupDeadline = nil
		s.readySignaled = true
		s.armWatchdog(now)
		return Action{Kind: ActionNone}

	case EventWatchdogPing:
		s.armWatchdog(now)
		return Action{Kind: ActionNone}

	case EventExtendTimeout:
		d := now.Add(ev.ExtendTimeout)
		s.watchdogDeadline = &d
		return Action{Kind: ActionNone}

	case EventFileChange:
		// "FileChange always returns Restart (ignored by rate limit)."
		return Action{Kind: ActionRestart}

	case EventProcessExit:
		if ev.ExitStatus == ExitSuccess {
			return Action{Kind: ActionNone}
		}
		return s.restartOrGiveUp(now, "process exited with failure")

	case EventWatchdogTrigger:
		return s.restartOrGiveUp(now, "watchdog trigger")

	case EventWatchdogTimeout:
		return s.restartOrGiveUp(now, "watchdog timeout: no heartbeat received")

	case EventStartupTimeout:
		return s.restartOrGiveUp(now, "startup timeout: process did not become ready")

	default:
		return Action{Kind: ActionNone}
	}
}

func (s *State) armWatchdog(now time.Time) {
	if s.cfg.WatchdogTimeout <= 0 {
		s.watchdogDeadline = nil
		return
	}
	d := now.Add(s.cfg.WatchdogTimeout)
	s.watchdogDeadline = &d
}

// restartOrGiveUp applies the sliding-window restart-rate policy: prune
// restart timestamps older than the window, then either allow a restart
// (recording it) or give up (spec.md §4.J "Restart policy"). restart_count
// within any window of length W never exceeds max_restarts+1 (spec.md
// invariant 7): e.g. max_restarts=2 allows 3 restarts (exits at t=0,1,2),
// and the 4th exit within the window gives up.
func (s *State) restartOrGiveUp(now time.Time, reason string) Action {
	s.pruneRestarts(now)
	if len(s.restartTimes) > s.cfg.MaxRestarts {
		return Action{Kind: ActionGiveUp, Reason: reason + ": exceeded " + strconv.Itoa(s.cfg.MaxRestarts) + " restarts in window"}
	}
	s.restartTimes = append(s.restartTimes, now)
	return Action{Kind: ActionRestart}
}

func (s *State) pruneRestarts(now time.Time) {
	if s.cfg.RestartWindow <= 0 {
		return
	}
	cutoff := now.Add(-s.cfg.RestartWindow)
	i := 0
	for ; i < len(s.restartTimes); i++ {
		if s.restartTimes[i].After(cutoff) {
			break
		}
	}
	s.restartTimes = s.restartTimes[i:]
}

// OnRestartComplete re-arms the startup deadline after a restart, the same
// way the process's initial spawn did (spec.md: restarts re-enter the
// startup phase until Ready is signaled again).
func (s *State) OnRestartComplete(now time.Time) {
	s.readySignaled = false
	s.watchdogDeadline = nil
	if s.cfg.StartupTimeout > 0 {
		d := now.Add(s.cfg.StartupTimeout)
		s.startupDeadline = &d
	} else {
		s.startupDeadline = nil
	}
}

