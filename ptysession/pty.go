package ptysession

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Size is a terminal size in character cells, mirroring portable_pty's
// PtySize from the original devenv-shell (spec.md §4.F).
type Size struct {
	Rows uint16
	Cols uint16
}

// GetTerminalSize reads the current size of stdout's controlling terminal,
// falling back to a conservative 80x24 when stdout isn't a TTY (piped
// output, tests) — same fallback the teacher's container PTY passthrough
// effectively relies on via term.IsTerminal checks (containers.go).
func GetTerminalSize() Size {
	ws, err := pty.GetsizeFull(os.Stdout)
	if err != nil {
		return Size{Rows: 24, Cols: 80}
	}
	return Size{Rows: ws.Rows, Cols: ws.Cols}
}

// Pty spawns a command inside a pseudo-terminal and exposes its master
// side. Grounded on containers.go's pty.Start passthrough, generalized
// into its own long-lived type since the shell session needs Resize/Kill
// beyond containers.go's one-shot use.
type Pty struct {
	mu   sync.Mutex
	ptmx *os.File
	cmd  *exec.Cmd
}

// Spawn starts command inside a new PTY sized to size.
func Spawn(command []string, env []string, workingDir string, size Size) (*Pty, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("ptysession: empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = env
	cmd.Dir = workingDir

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, fmt.Errorf("ptysession: spawn %q: %w", command[0], err)
	}
	return &Pty{ptmx: ptmx, cmd: cmd}, nil
}

func (p *Pty) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

func (p *Pty) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ptmx.Write(data)
}

// Resize changes the PTY window size; the shell's SIGWINCH handler does
// the rest (redrawing its own prompt, re-wrapping output, etc).
func (p *Pty) Resize(size Size) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Kill sends SIGKILL to the child process group. Best-effort: called on
// session teardown and PTY swap, where the exit code no longer matters.
func (p *Pty) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// pty.Start runs the child with Setsid, so its PID is also its PGID.
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
}

// Wait blocks until the child exits.
func (p *Pty) Wait() error {
	return p.cmd.Wait()
}

// Close releases the master fd without killing the child; used once the
// child is known to have already exited (PtyOutput io.EOF).
func (p *Pty) Close() error {
	return p.ptmx.Close()
}

var _ io.ReadWriteCloser = (*Pty)(nil)
