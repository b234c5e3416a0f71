package ptysession

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampedLine is one line of task output paired with its arrival time,
// mirroring the original's Vec<(Instant, String)> stdout/stderr capture.
type TimestampedLine struct {
	At   time.Time
	Text string
}

// TaskRequest asks the running shell to run command and report its result,
// wrapped in unique start/exit markers so the output can be parsed back out
// of the ordinary PTY byte stream (grounded on devenv-tasks/src/executor.rs's
// PtyExecutor and its devenv_shell::PtyTaskRequest wire contract — this
// struct is that shared contract on the Go side, consumed directly by
// tasks.PTYExecutor).
type TaskRequest struct {
	ID       uint64
	Command  string
	Env      map[string]string
	Cwd      string
	Response chan<- TaskResult
}

// TaskResult is the outcome of a TaskRequest. A PTY merges stdout and
// stderr onto one stream, so unlike the subprocess executor everything
// collected here is reported as Stdout — there is no way to tell the two
// apart once they've passed through the shell's tty.
type TaskResult struct {
	Success bool
	Stdout  []TimestampedLine
	Error   string
}

// SubmitTask queues a task for injection into the running shell. Only one
// task may be in flight at a time (the original's single PtyExecutor
// channel has the same restriction); a submission while one is already
// running is rejected with an error rather than queued.
func (s *Session) SubmitTask(req TaskRequest) {
	select {
	case s.taskRequests <- req:
	default:
		req.Response <- TaskResult{Success: false, Error: "another task is already running in this shell"}
	}
}

// taskCollector accumulates PTY output between a task's start and end
// markers and reports the result once the end marker line is seen.
type taskCollector struct {
	id       uint64
	response chan<- TaskResult
	buf      bytes.Buffer
	lines    []TimestampedLine
	started  bool
}

func taskStartMarker(id uint64) string { return fmt.Sprintf("__devenv_task_%d_start__", id) }
func taskEndMarker(id uint64) string   { return fmt.Sprintf("__devenv_task_%d_end_", id) }

// beginTask writes the marker-wrapped command to the PTY and installs a
// collector so subsequent handlePtyOutput calls can recognize the
// markers amid the shell's normal output.
func (s *Session) beginTask(req TaskRequest) {
	if s.activeTask != nil {
		req.Response <- TaskResult{Success: false, Error: "another task is already running in this shell"}
		return
	}
	p := s.pty.Load()
	if p == nil {
		req.Response <- TaskResult{Success: false, Error: "no shell is running"}
		return
	}

	var b strings.Builder
	for k, v := range req.Env {
		fmt.Fprintf(&b, "export %s=%s; ", shellQuote(k), shellQuote(v))
	}
	if req.Cwd != "" {
		fmt.Fprintf(&b, "cd %s; ", shellQuote(req.Cwd))
	}
	fmt.Fprintf(&b, "echo %s; { %s; }; __devenv_ec=$?; echo %s${__devenv_ec}__\n",
		taskStartMarker(req.ID), req.Command, taskEndMarker(req.ID))

	s.activeTask = &taskCollector{id: req.ID, response: req.Response}
	_, _ = p.Write([]byte(b.String()))
}

// feedTaskOutput scans data for the active task's markers, accumulating
// plain output lines and resolving the task's Response channel once the
// end marker is found. It never hides data from the normal terminal
// output path — task output stays visible in the shell, same as any other
// command a user types directly.
func (s *Session) feedTaskOutput(data []byte) {
	t := s.activeTask
	if t == nil {
		return
	}
	t.buf.Write(data)
	for {
		idx := bytes.IndexByte(t.buf.Bytes(), '\n')
		if idx < 0 {
			return
		}
		line := string(t.buf.Next(idx + 1))
		line = strings.TrimRight(line, "\r\n")

		if !t.started {
			if line == taskStartMarker(t.id) {
				t.started = true
			}
			continue
		}

		if prefix := taskEndMarker(t.id); strings.HasPrefix(line, prefix) {
			exitStr := strings.TrimSuffix(strings.TrimPrefix(line, prefix), "__")
			exit, err := strconv.Atoi(exitStr)
			result := TaskResult{Success: err == nil && exit == 0, Stdout: t.lines}
			if err != nil {
				result.Error = "failed to parse task exit marker: " + err.Error()
			} else if exit != 0 {
				result.Error = fmt.Sprintf("task exited with status %d", exit)
			}
			t.response <- result
			s.activeTask = nil
			return
		}

		t.lines = append(t.lines, TimestampedLine{At: time.Now(), Text: line})
	}
}

// shellQuote wraps v in single quotes, escaping any embedded single quote,
// so injected env/cwd values can't break out of the wrapping command line.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
