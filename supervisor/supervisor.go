package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banksean/devenv/activity"
)

// ProcessConfig is one supervised process's full configuration (spec.md
// §4.J). Exactly one of Target's concrete implementations is in play per
// process; Ready selects how readiness is detected when no notify socket
// is configured.
type ProcessConfig struct {
	Name  string
	Ready ReadySpec

	RestartWindow   time.Duration
	MaxRestarts     int
	StartupTimeout  time.Duration
	WatchdogTimeout time.Duration

	GracePeriod time.Duration // time between SIGTERM and SIGKILL on stop
}

// ReadySpec picks how a process signals readiness, in the original's
// priority order: an explicit notify socket wins, then a TCP probe, then
// "assume ready once spawned" for processes that are neither.
type ReadySpec struct {
	NotifySocketPath string // unix datagram path; empty disables
	NotifyGRPCAddr   string // optional grpc-transport variant; empty disables
	TCPProbeAddr     string // "127.0.0.1:PORT"; empty disables
}

// Supervisor runs one ProcessConfig's full lifecycle: start, probe
// readiness, watch for exit/watchdog/file-change events, restart or give up
// (spec.md §4.J). Grounded on devenv-processes/src/supervisor.rs's
// spawn_supervisor: a biased tokio::select! over shutdown, file-change,
// notify-socket messages, a single re-armed deadline timer, and process
// exit — translated here to a goroutine driving a buffered events channel
// consumed by one select loop, the same shape reload.Manager and
// ptysession.Session already use in this module.
type Supervisor struct {
	cfg    ProcessConfig
	target LaunchTarget
	state  *State

	events  chan supervisorEvent
	reload  chan struct{}
	stop    chan struct{}
	stopped atomic.Bool

	log *slog.Logger
}

type supervisorEvent struct {
	kind Event
}

// New constructs a Supervisor for target under cfg. The process is not
// started until Run is called.
func New(cfg ProcessConfig, target LaunchTarget) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		target: target,
		events: make(chan supervisorEvent, 8),
		reload: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		log:    slog.Default().With("process", cfg.Name),
	}
}

// Reload requests an unconditional restart (spec.md: "a file change always
// restarts, bypassing the restart-rate limit"), mirroring FileChange's
// special-cased handling in the original.
func (s *Supervisor) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Stop requests a graceful shutdown: SIGTERM, then SIGKILL after
// cfg.GracePeriod if the process hasn't exited.
func (s *Supervisor) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stop)
	}
}

// Run drives the supervision loop until ctx is cancelled, Stop is called,
// or the state machine gives up. It returns the give-up reason, or nil on
// a clean shutdown/ctx cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	h := activity.Operation("supervise:" + s.cfg.Name).Start(activity.NewScope())
	defer h.Finish()

	now := time.Now()
	s.state = New(Config{
		Name:            s.cfg.Name,
		RestartWindow:   s.cfg.RestartWindow,
		MaxRestarts:     s.cfg.MaxRestarts,
		StartupTimeout:  s.cfg.StartupTimeout,
		WatchdogTimeout: s.cfg.WatchdogTimeout,
	}, now)

	proc, err := s.start(ctx)
	if err != nil {
		h.Fail()
		return fmt.Errorf("start %s: %w", s.cfg.Name, err)
	}
	s.watchExit(proc)
	s.watchReadiness(ctx)

	for {
		deadline := s.state.NextDeadline()
		var timer *time.Timer
		var timerC <-chan time.Time
		if deadline != nil {
			d := time.Until(*deadline)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		var ev Event
		select {
		case <-ctx.Done():
			stopTimer(timer)
			s.terminate(proc)
			return nil

		case <-s.stop:
			stopTimer(timer)
			s.terminate(proc)
			return nil

		case <-s.reload:
			stopTimer(timer)
			ev = Event{Kind: EventFileChange}

		case se := <-s.events:
			stopTimer(timer)
			ev = se.kind

		case <-timerC:
			if s.state.IsStartupDeadline(*deadline) {
				ev = Event{Kind: EventStartupTimeout}
			} else {
				ev = Event{Kind: EventWatchdogTimeout}
			}
		}

		action := s.state.OnEvent(ev, time.Now())
		switch action.Kind {
		case ActionGiveUp:
			h.Fail()
			s.terminate(proc)
			return fmt.Errorf("%s: %s", s.cfg.Name, action.Reason)

		case ActionRestart:
			s.log.Warn("restarting", "reason", reasonFor(ev), "count", s.state.RestartCount())
			s.terminate(proc)
			proc, err = s.start(ctx)
			if err != nil {
				h.Fail()
				return fmt.Errorf("restart %s: %w", s.cfg.Name, err)
			}
			s.state.OnRestartComplete(time.Now())
			s.watchExit(proc)
			s.watchReadiness(ctx)
		}
	}
}

func reasonFor(ev Event) string {
	switch ev.Kind {
	case EventFileChange:
		return "file change"
	case EventProcessExit:
		return "process exit"
	case EventWatchdogTrigger:
		return "watchdog trigger"
	case EventWatchdogTimeout:
		return "watchdog timeout"
	case EventStartupTimeout:
		return "startup timeout"
	default:
		return "unknown"
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (s *Supervisor) start(ctx context.Context) (Process, error) {
	s.log.Info("starting", "target", s.target.String())
	return s.target.Start(ctx)
}

func (s *Supervisor) terminate(proc Process) {
	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	grace := s.cfg.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		_ = proc.Signal(syscall.SIGKILL)
		<-done
	}
}

func (s *Supervisor) watchExit(proc Process) {
	go func() {
		status, err := proc.Wait()
		if err != nil {
			s.log.Warn("process wait error", "err", err)
		}
		select {
		case s.events <- supervisorEvent{kind: Event{Kind: EventProcessExit, ExitStatus: status}}:
		case <-s.stop:
		}
	}()
}

// watchReadiness arms whichever readiness source is configured: a
// notify-protocol unix datagram socket (first priority), else a TCP probe
// loop, else nothing — spec.md §4.J "a process with neither is presumed
// ready as soon as it's spawned."
func (s *Supervisor) watchReadiness(ctx context.Context) {
	switch {
	case s.cfg.Ready.NotifySocketPath != "":
		go s.watchNotifySocket(ctx, s.cfg.Ready.NotifySocketPath)
	case s.cfg.Ready.NotifyGRPCAddr != "":
		go s.watchNotifyGRPC(ctx, s.cfg.Ready.NotifyGRPCAddr)
	case s.cfg.Ready.TCPProbeAddr != "":
		go s.watchTCPProbe(ctx, s.cfg.Ready.TCPProbeAddr)
	default:
		s.emit(Event{Kind: EventReady})
	}
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- supervisorEvent{kind: ev}:
	case <-s.stop:
	}
}

// watchTCPProbe polls addr every 100ms until a connection succeeds, then
// reports Ready (devenv-processes/src/supervisor.rs's TCP-probe fallback).
func (s *Supervisor) watchTCPProbe(ctx context.Context, addr string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
			if err == nil {
				conn.Close()
				s.emit(Event{Kind: EventReady})
				return
			}
		}
	}
}

// watchNotifySocket listens on a unix datagram socket for the raw
// NotifyMessage text protocol (spec.md §4.J): READY=1, WATCHDOG=1,
// WATCHDOG_USEC=<n>, EXTEND_TIMEOUT_USEC=<n>, STATUS=<text>, STOPPING=1,
// RELOADING=1 — one message per datagram, newline-separated key=value
// pairs within a datagram handled the same way.
func (s *Supervisor) watchNotifySocket(ctx context.Context, path string) {
	_ = os.Remove(path)
	conn, err := net.ListenPacket("unixgram", path)
	if err != nil {
		s.log.Error("notify socket listen failed", "path", path, "err", err)
		return
	}
	defer conn.Close()
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		<-s.stop
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		for _, ev := range parseNotifyDatagram(buf[:n]) {
			s.emit(ev)
		}
	}
}

func parseNotifyDatagram(data []byte) []Event {
	var events []Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		key, val, _ := bytes.Cut(line, []byte("="))
		switch string(key) {
		case "READY":
			events = append(events, Event{Kind: EventReady})
		case "WATCHDOG":
			if string(val) == "trigger" {
				events = append(events, Event{Kind: EventWatchdogTrigger})
			} else {
				events = append(events, Event{Kind: EventWatchdogPing})
			}
		case "WATCHDOG_USEC":
			if usec, ok := parseUint(val); ok {
				events = append(events, Event{Kind: EventExtendTimeout, ExtendTimeout: time.Duration(usec) * time.Microsecond})
			}
		case "EXTEND_TIMEOUT_USEC":
			if usec, ok := parseUint(val); ok {
				events = append(events, Event{Kind: EventExtendTimeout, ExtendTimeout: time.Duration(usec) * time.Microsecond})
			}
		case "STOPPING", "RELOADING", "STATUS":
			// Informational only; no state transition (spec.md §4.J).
		}
	}
	return events
}

func parseUint(b []byte) (uint64, bool) {
	var n uint64
	if len(b) == 0 {
		return 0, false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

