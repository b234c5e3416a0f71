// Package reload orchestrates build, spawn, and PTY swap against a
// running ptysession.Session and a filewatch.Watcher (spec.md §4.H).
// Grounded on devenv-reload/src/manager.rs, restructured so the PTY-swap
// mechanics themselves live in ptysession.Session.Swap — this package
// only owns the build-cancellation and change-accumulation state machine
// the original interleaves into one large event loop.
package reload

import (
	"context"
	"sync"

	"github.com/banksean/devenv/filewatch"
	"github.com/banksean/devenv/ptysession"
)

// Trigger distinguishes the initial build from a file-change-driven
// rebuild, mirroring BuildTrigger in the original builder.rs.
type Trigger struct {
	Initial bool
	Changed string // set when !Initial
}

// BuildContext is handed to Builder.Build for each build attempt.
type BuildContext struct {
	Cwd     string
	Env     []string
	Trigger Trigger
}

// Builder resolves a BuildContext into the command to run in the shell's
// PTY. Implementations are expected to consult a project's build
// definition (flake, devenv.yaml, Procfile, ...); reload has no opinion
// on how the command is produced.
type Builder interface {
	Build(ctx context.Context, bc BuildContext) (command []string, err error)
}

// MessageKind discriminates the three outcomes a manager reports
// (spec.md §4.H): "BuildFailed means the build step returned an error;
// ReloadFailed means the build produced a command but the PTY spawn
// failed."
type MessageKind int

const (
	MessageReloaded MessageKind = iota
	MessageReloadFailed
	MessageBuildFailed
)

// Message is one notification sent to the manager's UI consumer.
type Message struct {
	Kind  MessageKind
	Files []string
	Error error
}

// Manager coordinates a Builder, a filewatch.Watcher, and a
// ptysession.Session: every debounced file change cancels any in-flight
// build and starts a new one with the accumulated change set; a
// successful build triggers Session.Swap; a failed build or failed swap
// leaves the previous shell running untouched (spec.md §4.H).
type Manager struct {
	builder Builder
	session *ptysession.Session
	watcher *filewatch.Watcher
	cwd     string
	env     []string

	messages chan Message

	mu           sync.Mutex
	cancelBuild  context.CancelFunc
	pendingFiles map[string]bool
	buildSeq     uint64 // guards against a cancelled build's result overwriting a newer one
}

// New creates a Manager. Run must be called to drive it.
func New(builder Builder, session *ptysession.Session, watcher *filewatch.Watcher, cwd string, env []string) *Manager {
	return &Manager{
		builder:      builder,
		session:      session,
		watcher:      watcher,
		cwd:          cwd,
		env:          env,
		messages:     make(chan Message, 16),
		pendingFiles: map[string]bool{},
	}
}

// Messages is read by the UI consumer (TUI or plain CLI output) to learn
// the outcome of each reload attempt.
func (m *Manager) Messages() <-chan Message { return m.messages }

// Run performs the initial build+spawn, then watches for file changes
// until the session exits or ctx is cancelled. The session itself runs
// on its own goroutine: Run's job is solely to drive Builder/Swap against
// file-change events while the shell stays interactive.
func (m *Manager) Run(ctx context.Context, initialWorkingDir string) error {
	initial, err := m.builder.Build(ctx, BuildContext{Cwd: m.cwd, Env: m.env, Trigger: Trigger{Initial: true}})
	if err != nil {
		m.send(Message{Kind: MessageBuildFailed, Error: err})
		return err
	}

	commands := make(chan ptysession.Command, 8)
	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- m.session.Run(ctx, initial, m.env, initialWorkingDir, commands)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sessionDone:
			return err
		case ev, ok := <-m.watcher.Events():
			if !ok {
				return nil
			}
			m.onFileChange(ctx, ev.Path, commands)
		}
	}
}

// onFileChange cancels any in-flight build, records the changed path,
// and starts a fresh build carrying every path accumulated since the
// last completed build (spec.md §4.H: "Pending change paths accumulate
// until a build result is produced; that result reports all accumulated
// paths").
func (m *Manager) onFileChange(ctx context.Context, path string, commands chan<- ptysession.Command) {
	m.mu.Lock()
	if m.cancelBuild != nil {
		m.cancelBuild()
	}
	m.pendingFiles[path] = true
	m.buildSeq++
	seq := m.buildSeq
	pending := make([]string, 0, len(m.pendingFiles))
	for f := range m.pendingFiles {
		pending = append(pending, f)
	}
	buildCtx, cancel := context.WithCancel(ctx)
	m.cancelBuild = cancel
	m.mu.Unlock()

	sendCommand(commands, ptysession.Command{Kind: ptysession.CommandBuilding, ChangedFiles: pending})
	go m.runBuild(buildCtx, seq, commands)
}

func (m *Manager) runBuild(ctx context.Context, seq uint64, commands chan<- ptysession.Command) {
	command, err := m.builder.Build(ctx, BuildContext{Cwd: m.cwd, Env: m.env, Trigger: Trigger{Initial: false}})

	m.mu.Lock()
	if seq != m.buildSeq {
		// A newer file change superseded this build while it ran; its
		// result (success or failure) is stale and must not clear
		// pendingFiles out from under the build that replaced it.
		m.mu.Unlock()
		return
	}
	files := make([]string, 0, len(m.pendingFiles))
	for f := range m.pendingFiles {
		files = append(files, f)
	}
	m.pendingFiles = map[string]bool{}
	m.cancelBuild = nil
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		sendCommand(commands, ptysession.Command{Kind: ptysession.CommandBuildFailed, ChangedFiles: files, Error: err})
		m.send(Message{Kind: MessageBuildFailed, Files: files, Error: err})
		return
	}

	if err := m.session.Swap(command, m.env, m.cwd); err != nil {
		sendCommand(commands, ptysession.Command{Kind: ptysession.CommandBuildFailed, ChangedFiles: files, Error: err})
		m.send(Message{Kind: MessageReloadFailed, Files: files, Error: err})
		return
	}
	sendCommand(commands, ptysession.Command{Kind: ptysession.CommandReloadApplied})
	m.send(Message{Kind: MessageReloaded, Files: files})
}

func sendCommand(commands chan<- ptysession.Command, cmd ptysession.Command) {
	select {
	case commands <- cmd:
	default:
	}
}

func (m *Manager) send(msg Message) {
	select {
	case m.messages <- msg:
	default:
	}
}
