// Package capsclient is the unprivileged half of the capability launcher
// (spec.md §4.E): it spawns devenv-capd under sudo over an inherited
// socketpair and speaks capproto's framed protocol to it. Grounded on
// devenv-caps/src/lib/client.rs's CapServer, restructured around Go's
// *os.File/unix.Socketpair instead of a raw UnixStream pair.
package capsclient

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/banksean/devenv/capproto"
	"golang.org/x/sys/unix"
)

// Config configures the cap-server for the current user, the one case
// devenv itself needs: drop privileged launches back to the invoking user.
type Config struct {
	ServerBinary string
	UID          uint32
	GID          uint32
	Groups       []uint32
}

// CurrentUserConfig builds a Config for the process's own identity.
func CurrentUserConfig(serverBinary string) (Config, error) {
	groups, err := unix.Getgroups()
	if err != nil {
		return Config{}, fmt.Errorf("capsclient: getgroups: %w", err)
	}
	g := make([]uint32, len(groups))
	for i, gid := range groups {
		g[i] = uint32(gid)
	}
	return Config{
		ServerBinary: serverBinary,
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
		Groups:       g,
	}, nil
}

// Server is a handle to a running devenv-capd process.
type Server struct {
	conn    *os.File
	cmd     *exec.Cmd
	timeout time.Duration
}

// Start spawns devenv-capd via sudo, handing it one end of a freshly created
// socketpair. No filesystem socket is ever created — the fd is the only way
// to reach the server (spec.md §4.E).
func Start(cfg Config) (*Server, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("capsclient: socketpair: %w", err)
	}
	parentFD, childFD := fds[0], fds[1]

	// Clear close-on-exec on the child end so devenv-capd inherits it across
	// sudo's own exec of the server binary.
	if _, err := unix.FcntlInt(uintptr(childFD), unix.F_SETFD, 0); err != nil {
		unix.Close(parentFD)
		unix.Close(childFD)
		return nil, fmt.Errorf("capsclient: clear close-on-exec: %w", err)
	}

	// os.NewFile only returns a pollable *os.File (one that honours the read
	// deadline in roundTrip) for a descriptor already in non-blocking mode.
	if err := unix.SetNonblock(parentFD, true); err != nil {
		unix.Close(parentFD)
		unix.Close(childFD)
		return nil, fmt.Errorf("capsclient: set non-blocking: %w", err)
	}

	groupStrings := make([]string, len(cfg.Groups))
	for i, g := range cfg.Groups {
		groupStrings[i] = fmt.Sprintf("%d", g)
	}

	// os/exec renumbers ExtraFiles starting at fd 3 in the child regardless
	// of their number in this process (stdin/stdout/stderr occupy 0-2), so
	// the single extra file here always lands on fd 3 — that's the number
	// devenv-capd and sudo's --preserve-fd both need, not childFD itself.
	const childConnFD = 3

	cmd := exec.Command("sudo",
		"--preserve-fd", fmt.Sprintf("%d", childConnFD),
		"--",
		cfg.ServerBinary,
		"--fd", fmt.Sprintf("%d", childConnFD),
		"--uid", fmt.Sprintf("%d", cfg.UID),
		"--gid", fmt.Sprintf("%d", cfg.GID),
		"--groups", joinComma(groupStrings),
	)
	cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(childFD), "capd-child-socket")}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		unix.Close(parentFD)
		unix.Close(childFD)
		return nil, fmt.Errorf("capsclient: spawn devenv-capd via sudo: %w", err)
	}

	// Our copy of the child end is no longer needed; cmd.ExtraFiles kept the
	// *os.File open across Start, sudo's child inherited its own copy.
	unix.Close(childFD)

	return &Server{
		conn:    os.NewFile(uintptr(parentFD), "capd-parent-socket"),
		cmd:     cmd,
		timeout: 30 * time.Second,
	}, nil
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// roundTrip sends req and decodes the single response it's owed, guarded by
// a 30s read deadline so a server that dies between read and response
// doesn't wedge the client (spec.md §4.E).
func (s *Server) roundTrip(req *capproto.Request) (*capproto.Response, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}
	if err := capproto.WriteMessage(s.conn, req); err != nil {
		return nil, err
	}
	var resp capproto.Response
	if err := capproto.ReadMessage(s.conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Launch forwards a Launch request and returns the child's PID.
func (s *Server) Launch(id string, caps []string, command string, args []string, env map[string]string, workingDir string) (int64, error) {
	resp, err := s.roundTrip(&capproto.Request{
		Kind: capproto.RequestLaunch, ID: id, Caps: caps, Command: command,
		Args: args, Env: env, WorkingDir: workingDir,
	})
	if err != nil {
		return 0, err
	}
	switch resp.Kind {
	case capproto.ResponseLaunched:
		return resp.PID, nil
	case capproto.ResponseError:
		return 0, errors.New(resp.Message)
	default:
		return 0, errProtocol
	}
}

// Poll returns processes the server has seen exit since the last Poll.
func (s *Server) Poll() ([]capproto.ExitedProcess, error) {
	resp, err := s.roundTrip(&capproto.Request{Kind: capproto.RequestPoll})
	if err != nil {
		return nil, err
	}
	switch resp.Kind {
	case capproto.ResponseExited:
		return resp.Processes, nil
	case capproto.ResponseError:
		return nil, errors.New(resp.Message)
	default:
		return nil, errProtocol
	}
}

// Signal sends signo to pid, which must have been launched by this server.
func (s *Server) Signal(pid int64, signo int) error {
	resp, err := s.roundTrip(&capproto.Request{Kind: capproto.RequestSignal, PID: pid, Signal: signo})
	if err != nil {
		return err
	}
	switch resp.Kind {
	case capproto.ResponseOk:
		return nil
	case capproto.ResponseError:
		return errors.New(resp.Message)
	default:
		return errProtocol
	}
}

// Shutdown asks the server to terminate all launched children, then waits
// for the server process itself to exit.
func (s *Server) Shutdown() error {
	_, _ = s.roundTrip(&capproto.Request{Kind: capproto.RequestShutdown})
	return s.cmd.Wait()
}

// ServerPID returns the PID of the devenv-capd process itself (the sudo
// child, not any process it launches).
func (s *Server) ServerPID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

var errProtocol = errors.New("capsclient: unexpected response from devenv-capd")

// FindServerBinary looks first next to the running executable (the shared
// bin/ layout devenv installs into), then falls back to $PATH.
func FindServerBinary() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "devenv-capd")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath("devenv-capd")
}

// CanSudoNoninteractive reports whether sudo can run binary without a
// password prompt (NOPASSWD configured, or a cached session).
func CanSudoNoninteractive(binary string) bool {
	cmd := exec.Command("sudo", "-n", "--", binary, "--check")
	cmd.Stderr = nil
	return cmd.Run() == nil
}
