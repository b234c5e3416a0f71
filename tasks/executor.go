package tasks

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/banksean/devenv/ptysession"
)

// ExecutionContext is what an Executor needs to run one task command
// (spec.md §4.I "Executor contract").
type ExecutionContext struct {
	Command        string
	Cwd            string
	Env            map[string]string
	UseSudo        bool
	OutputFilePath string
}

// ExecutionResult is what every Executor implementation returns,
// regardless of how the command actually ran.
type ExecutionResult struct {
	Success bool
	Stdout  []string
	Stderr  []string
	Error   string
}

// OutputCallback streams output lines as they arrive, e.g. to a
// activity-bus Task log.
type OutputCallback interface {
	OnStdout(line string)
	OnStderr(line string)
}

// NoopCallback discards everything.
type NoopCallback struct{}

func (NoopCallback) OnStdout(string) {}
func (NoopCallback) OnStderr(string) {}

// Executor runs one task command to completion or cancellation
// (spec.md §4.I "Executor contract").
type Executor interface {
	Execute(ctx context.Context, ec ExecutionContext, cb OutputCallback) ExecutionResult
}

// SubprocessExecutor runs the command as a child process in its own
// process group, streaming stdout/stderr line by line; on cancellation it
// sends SIGTERM to the group, escalating to SIGKILL after a 5s grace
// period (spec.md §4.I, grounded on devenv-tasks/src/executor.rs's
// SubprocessExecutor).
type SubprocessExecutor struct{}

func (SubprocessExecutor) Execute(ctx context.Context, ec ExecutionContext, cb OutputCallback) ExecutionResult {
	name, args := ec.Command, []string(nil)
	if ec.UseSudo {
		args = []string{"-E", ec.Command}
		name = "sudo"
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = ec.Cwd
	cmd.Env = os.Environ()
	for k, v := range ec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "DEVENV_TASK_OUTPUT_FILE="+ec.OutputFilePath)
	// New process group so cancellation can signal every descendant, not
	// just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExecutionResult{Error: fmt.Sprintf("failed to open stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ExecutionResult{Error: fmt.Sprintf("failed to open stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return ExecutionResult{Error: fmt.Sprintf("failed to spawn command for %s: %v", ec.Command, err)}
	}

	var mu sync.Mutex
	var stdoutLines, stderrLines []string
	var wg sync.WaitGroup
	wg.Add(2)
	go collectLines(stdout, &mu, &stdoutLines, cb.OnStdout, &wg)
	go collectLines(stderr, &mu, &stderrLines, cb.OnStderr, &wg)

	waitDone := make(chan error, 1)
	go func() { wg.Wait(); waitDone <- cmd.Wait() }()

	select {
	case err := <-waitDone:
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			return ExecutionResult{Success: false, Stdout: stdoutLines, Stderr: stderrLines, Error: fmt.Sprintf("task exited with status: %v", err)}
		}
		return ExecutionResult{Success: true, Stdout: stdoutLines, Stderr: stderrLines}

	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		}
		select {
		case <-waitDone:
		case <-time.After(5 * time.Second):
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			<-waitDone
		}
		mu.Lock()
		defer mu.Unlock()
		return ExecutionResult{Success: false, Stdout: stdoutLines, Stderr: stderrLines, Error: "task cancelled"}
	}
}

func collectLines(r io.Reader, mu *sync.Mutex, dst *[]string, onLine func(string), wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		onLine(line)
		mu.Lock()
		*dst = append(*dst, line)
		mu.Unlock()
	}
}

// PTYExecutor runs the command inside the interactive shell's own PTY by
// submitting a ptysession.TaskRequest, instead of spawning a fresh process
// (spec.md §4.I "PTY-injection" executor, grounded on
// devenv-tasks/src/executor.rs's PtyExecutor). Used for hot-reload mode
// where tasks should observe the same environment the interactive shell
// does.
type PTYExecutor struct {
	Session *ptysession.Session
	nextID  uint64
	mu      sync.Mutex
}

func (p *PTYExecutor) Execute(ctx context.Context, ec ExecutionContext, _ OutputCallback) ExecutionResult {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	env := map[string]string{}
	for k, v := range ec.Env {
		env[k] = v
	}
	env["DEVENV_TASK_OUTPUT_FILE"] = ec.OutputFilePath

	response := make(chan ptysession.TaskResult, 1)
	p.Session.SubmitTask(ptysession.TaskRequest{
		ID:       id,
		Command:  ec.Command,
		Env:      env,
		Cwd:      ec.Cwd,
		Response: response,
	})

	select {
	case result := <-response:
		lines := make([]string, 0, len(result.Stdout))
		for _, l := range result.Stdout {
			lines = append(lines, l.Text)
		}
		return ExecutionResult{Success: result.Success, Stdout: lines, Error: result.Error}
	case <-ctx.Done():
		return ExecutionResult{Error: "task cancelled"}
	}
}
