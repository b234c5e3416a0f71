// Command devenv-capd is the privileged half of the capability launcher
// (spec.md §4.E). It never execs anything as root: every launched process
// drops to the configured UID/GID before its final exec, and the server
// holds root only long enough to perform the capability-bounding-set
// restriction that exec can't be trusted to do for itself.
//
// Argument parsing is hand-written, not kong-based, mirroring the original
// devenv-cap-server's own minimal parser (spec.md §6) — this binary runs
// under sudo with a tightly scoped, machine-generated argv, not an
// interactive CLI surface, so pulling in the CLI framework buys nothing and
// only grows the trusted-root-process's dependency footprint.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banksean/devenv/capproto"
	"golang.org/x/sys/unix"
)

type serverArgs struct {
	fd     int
	uid    uint32
	gid    uint32
	groups []uint32
}

func parseArgs(argv []string) (serverArgs, error) {
	var a serverArgs
	haveFD, haveUID, haveGID := false, false, false

	for i := 1; i < len(argv); i++ {
		switch argv[i] {
		case "--fd":
			i++
			n, err := strconv.Atoi(argv[i])
			if err != nil {
				return a, fmt.Errorf("invalid --fd: %w", err)
			}
			a.fd, haveFD = n, true
		case "--uid":
			i++
			n, err := strconv.ParseUint(argv[i], 10, 32)
			if err != nil {
				return a, fmt.Errorf("invalid --uid: %w", err)
			}
			a.uid, haveUID = uint32(n), true
		case "--gid":
			i++
			n, err := strconv.ParseUint(argv[i], 10, 32)
			if err != nil {
				return a, fmt.Errorf("invalid --gid: %w", err)
			}
			a.gid, haveGID = uint32(n), true
		case "--groups":
			i++
			if argv[i] != "" {
				for _, s := range strings.Split(argv[i], ",") {
					n, err := strconv.ParseUint(s, 10, 32)
					if err != nil {
						return a, fmt.Errorf("invalid --groups: %w", err)
					}
					a.groups = append(a.groups, uint32(n))
				}
			}
		default:
			return a, fmt.Errorf("unknown argument: %s", argv[i])
		}
	}

	if !haveUID {
		return a, errors.New("--uid is required")
	}
	if !haveGID {
		return a, errors.New("--gid is required")
	}
	if !haveFD {
		return a, errors.New("--fd is required")
	}
	if a.uid == 0 || a.gid == 0 {
		return a, errors.New("refusing to launch processes as root (uid=0 or gid=0)")
	}
	return a, nil
}

func main() {
	if isInitStage() {
		runInitStage()
		return
	}

	for _, arg := range os.Args[1:] {
		if arg == "--check" {
			if os.Geteuid() != 0 {
				fmt.Fprintln(os.Stderr, "devenv-capd: must be run as root (via sudo)")
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "devenv-capd: must be run as root (via sudo)")
		os.Exit(1)
	}

	args, err := parseArgs(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd: %v\n", err)
		os.Exit(1)
	}

	if _, err := unix.FcntlInt(uintptr(args.fd), unix.F_GETFD, 0); err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd: --fd %d is not a valid file descriptor\n", args.fd)
		os.Exit(1)
	}
	unix.CloseOnExec(args.fd)

	conn := os.NewFile(uintptr(args.fd), "capd-socket")

	fmt.Fprintf(os.Stderr, "devenv-capd: ready (uid=%d, gid=%d, groups=%v)\n", args.uid, args.gid, args.groups)

	s := &server{conn: conn, args: args, known: map[int64]bool{}, exited: map[int64]capproto.ExitedProcess{}}
	s.run()
}

type server struct {
	conn   *os.File
	args   serverArgs
	known  map[int64]bool
	exited map[int64]capproto.ExitedProcess
}

func (s *server) run() {
	for {
		var req capproto.Request
		if err := capproto.ReadMessage(s.conn, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "devenv-capd: connection closed (%v), shutting down\n", err)
			}
			s.killAll()
			break
		}

		switch req.Kind {
		case capproto.RequestLaunch:
			s.handleLaunch(req)
		case capproto.RequestSignal:
			s.handleSignal(req)
		case capproto.RequestPoll:
			s.handlePoll()
		case capproto.RequestShutdown:
			fmt.Fprintln(os.Stderr, "devenv-capd: shutdown requested")
			s.killAll()
			_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseOk})
			return
		}

		s.reapChildren()
	}
	os.Exit(0)
}

func (s *server) handleLaunch(req capproto.Request) {
	if _, err := capproto.ParseAndValidate(req.Caps); err != nil {
		msg := fmt.Sprintf("capability validation failed for '%s': %v", req.ID, err)
		fmt.Fprintln(os.Stderr, "devenv-capd: "+msg)
		_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseError, Message: msg})
		return
	}

	pid, err := forkWithCaps(ChildSpec{
		Caps: req.Caps, UID: s.args.uid, GID: s.args.gid, Groups: s.args.groups,
		Command: req.Command, Args: req.Args, Env: req.Env, WorkingDir: req.WorkingDir,
	})
	if err != nil {
		msg := fmt.Sprintf("failed to launch '%s': %v", req.ID, err)
		fmt.Fprintln(os.Stderr, "devenv-capd: "+msg)
		_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseError, Message: msg})
		return
	}

	fmt.Fprintf(os.Stderr, "devenv-capd: launched '%s' (pid=%d) with caps %v\n", req.ID, pid, req.Caps)
	s.known[int64(pid)] = true
	_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseLaunched, PID: int64(pid)})
}

func (s *server) handleSignal(req capproto.Request) {
	if !s.known[req.PID] {
		msg := fmt.Sprintf("pid %d not tracked by this server", req.PID)
		_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseError, Message: msg})
		return
	}
	// req.PID fits in i32 by construction: it was assigned by os.StartProcess
	// in this same process, never parsed off the wire as a raw value used
	// directly in a kill() call.
	if req.Signal < 0 || req.Signal > 64 {
		msg := fmt.Sprintf("invalid signal number: %d", req.Signal)
		_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseError, Message: msg})
		return
	}
	if err := unix.Kill(int(req.PID), unix.Signal(req.Signal)); err != nil {
		msg := fmt.Sprintf("kill(%d, %d) failed: %v", req.PID, req.Signal, err)
		_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseError, Message: msg})
		return
	}
	_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseOk})
}

func (s *server) handlePoll() {
	processes := make([]capproto.ExitedProcess, 0, len(s.exited))
	for pid, info := range s.exited {
		processes = append(processes, info)
		delete(s.exited, pid)
	}
	_ = capproto.WriteMessage(s.conn, &capproto.Response{Kind: capproto.ResponseExited, Processes: processes})
}

// reapChildren performs a non-blocking waitpid sweep, recording exit info
// for any child that has finished. Safe to reap any child of this process:
// forkWithCaps/os.StartProcess is the only place this server ever forks.
func (s *server) reapChildren() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		if status.Stopped() || status.Continued() {
			continue
		}
		delete(s.known, int64(pid))
		info := capproto.ExitedProcess{PID: int64(pid)}
		if status.Exited() {
			info.Reason, info.Code = capproto.ExitExited, status.ExitStatus()
		} else if status.Signaled() {
			info.Reason, info.Code = capproto.ExitSignaled, int(status.Signal())
		}
		s.exited[int64(pid)] = info
	}
}

// killAll sends SIGTERM to every tracked PID, waits up to 2s for graceful
// exit, then SIGKILLs stragglers (spec.md §4.E "Shutdown / teardown").
func (s *server) killAll() {
	for pid := range s.known {
		_ = unix.Kill(int(pid), unix.SIGTERM)
	}

	deadline := time.Now().Add(2 * time.Second)
	remaining := make(map[int64]bool, len(s.known))
	for pid := range s.known {
		remaining[pid] = true
	}

	for len(remaining) > 0 && time.Now().Before(deadline) {
		for pid := range remaining {
			var status unix.WaitStatus
			if p, err := unix.Wait4(int(pid), &status, unix.WNOHANG, nil); err == nil && p == int(pid) {
				delete(remaining, pid)
			}
		}
		if len(remaining) > 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}

	for pid := range remaining {
		_ = unix.Kill(int(pid), unix.SIGKILL)
	}
}
