//go:build linux

package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/banksean/devenv/capproto"
	"golang.org/x/sys/unix"
)

func encodeChildSpec(spec ChildSpec) (string, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("devenv-capd: encode child spec: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeChildSpec(encoded string) (ChildSpec, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ChildSpec{}, fmt.Errorf("decode: %w", err)
	}
	var spec ChildSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return ChildSpec{}, fmt.Errorf("unmarshal: %w", err)
	}
	return spec, nil
}

// initEnvSpec is the key the re-exec child (see below) reads its ChildSpec
// from. devenv-capd never talks JSON to itself over a pipe for this — the
// spec is small and the env var never crosses a trust boundary, since the
// re-exec child is this same binary invoked by this same (root) process.
const initEnvSpec = "DEVENV_CAPD_CHILD_SPEC"

// reexecMarker is argv[0]'s replacement when devenv-capd invokes itself to
// perform the privilege drop. A real argv[1] flag would work too, but a
// distinct argv[0] keeps `ps` output honest about what's about to run.
const reexecMarker = "devenv-capd-init"

// ChildSpec describes one Launch request's target process.
type ChildSpec struct {
	Caps       []string
	UID        uint32
	GID        uint32
	Groups     []uint32
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
}

// forkWithCaps launches spec's command with exactly its granted capability
// set, following the sequence of spec.md §4.E's child-side steps: drop
// GID/groups/UID, restrict the capability bounding set to the granted set,
// raise ambient+permitted+effective to the granted set, then exec.
//
// Go cannot run arbitrary code between fork() and exec() safely in a
// multi-threaded runtime (the Go scheduler may hold locks across the fork in
// the child, the classic fork-without-immediate-exec hazard), so rather than
// a raw fork+custom-child-code+exec like the Rust original, this re-executes
// devenv-capd itself in "init" mode: a fresh, single-threaded process that
// performs the capability dance and then calls syscall.Exec to replace
// itself with the real target. The same two-stage shape containerized-init
// helpers (e.g. runc's own init re-exec) use for an equivalent problem with
// namespaces instead of capabilities.
func forkWithCaps(spec ChildSpec) (pid int, err error) {
	encoded, err := encodeChildSpec(spec)
	if err != nil {
		return 0, err
	}

	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("devenv-capd: resolve self: %w", err)
	}

	cmd := &os.ProcAttr{
		Env:   append(os.Environ(), initEnvSpec+"="+encoded),
		Files: []*os.File{nil, os.Stdout, os.Stderr},
	}
	proc, err := os.StartProcess(self, []string{reexecMarker}, cmd)
	if err != nil {
		return 0, fmt.Errorf("devenv-capd: re-exec init stage: %w", err)
	}
	return proc.Pid, nil
}

// runInitStage is entered when os.Args[0] == reexecMarker. It still runs as
// root (the parent never dropped privilege before this re-exec), performs
// the capability-bounding-set restriction while it can, drops to the target
// identity, raises the granted ambient set, and execs the real command.
func runInitStage() {
	encoded := os.Getenv(initEnvSpec)
	spec, err := decodeChildSpec(encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd-init: bad child spec: %v\n", err)
		os.Exit(1)
	}

	granted := make(map[uintptr]bool, len(spec.Caps))
	for _, name := range spec.Caps {
		granted[capproto.CapNumbers[name]] = true
	}

	// Restrict the bounding set to exactly the granted capabilities while
	// still root — PR_CAPBSET_DROP is irreversible per-capability and only
	// effective before the final exec. Numbers above the kernel's last
	// capability fail with EINVAL and are ignored.
	for num := uintptr(0); num < 64; num++ {
		if !granted[num] {
			_ = unix.Prctl(unix.PR_CAPBSET_DROP, num, 0, 0, 0)
		}
	}

	if len(spec.Groups) > 0 {
		groups := make([]int, len(spec.Groups))
		for i, g := range spec.Groups {
			groups[i] = int(g)
		}
		if err := syscall.Setgroups(groups); err != nil {
			fmt.Fprintf(os.Stderr, "devenv-capd-init: setgroups: %v\n", err)
			os.Exit(1)
		}
	}
	if err := unix.Setresgid(int(spec.GID), int(spec.GID), int(spec.GID)); err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd-init: setresgid: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Setresuid(int(spec.UID), int(spec.UID), int(spec.UID)); err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd-init: setresuid: %v\n", err)
		os.Exit(1)
	}

	// Raise ambient (and thus permitted+effective on exec) capabilities for
	// exactly the granted set.
	for _, num := range spec.Caps {
		_ = unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_RAISE, capproto.CapNumbers[num], 0, 0)
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	if spec.WorkingDir != "" {
		if err := os.Chdir(spec.WorkingDir); err != nil {
			fmt.Fprintf(os.Stderr, "devenv-capd-init: chdir: %v\n", err)
			os.Exit(1)
		}
	}

	argv0, err := exec.LookPath(spec.Command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd-init: %v\n", err)
		os.Exit(127)
	}
	argv := append([]string{spec.Command}, spec.Args...)
	if err := syscall.Exec(argv0, argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "devenv-capd-init: exec %s: %v\n", spec.Command, err)
		os.Exit(127)
	}
}

func isInitStage() bool {
	return len(os.Args) > 0 && os.Args[0] == reexecMarker
}
