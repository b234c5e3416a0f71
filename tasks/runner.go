package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Results is the outcome of one Runner.Run: the per-node completion state
// plus the merged output map every completed task contributed to.
type Results struct {
	States  []Completed // indexed by graph node index, like Graph.Task
	Outputs map[string]json.RawMessage
}

// Runner executes a scheduled task order against a Graph, honoring
// dependency order, skip logic, and a --max-jobs concurrency cap
// (spec.md §4.I). Grounded on devenv-tasks/src/tasks.rs's Tasks::run,
// restructured around golang.org/x/sync/errgroup + semaphore.Weighted in
// place of tokio::task::JoinSet + a raw permit count.
type Runner struct {
	graph    *Graph
	order    []int
	executor Executor
	cache    *Cache
	sem      *semaphore.Weighted
	cb       OutputCallback
}

// NewRunner builds a Runner. maxJobs <= 0 means unlimited concurrency.
func NewRunner(graph *Graph, order []int, executor Executor, cache *Cache, maxJobs int, cb OutputCallback) *Runner {
	if maxJobs <= 0 {
		maxJobs = len(order)
		if maxJobs == 0 {
			maxJobs = 1
		}
	}
	if cb == nil {
		cb = NoopCallback{}
	}
	return &Runner{graph: graph, order: order, executor: executor, cache: cache, sem: semaphore.NewWeighted(int64(maxJobs)), cb: cb}
}

// Run executes every node in r.order, waiting on each node's predecessors
// (by graph edge, not list position) before starting it, and returns once
// every node has reached a terminal state.
func (r *Runner) Run(ctx context.Context) (*Results, error) {
	done := make([]chan struct{}, len(r.graph.nodes))
	for i := range done {
		done[i] = make(chan struct{})
	}
	states := make([]Completed, len(r.graph.nodes))

	var mu sync.Mutex
	outputs := map[string]json.RawMessage{}

	// Only nodes in r.order get a goroutine (and thus ever close their
	// done[] channel) — RunSingle/RunAfter schedule a strict subgraph, so a
	// root's own out-of-subgraph dependencies must be excluded from the
	// wait/depFailed checks below, or they'd block forever.
	scheduled := make(map[int]bool, len(r.order))
	for _, idx := range r.order {
		scheduled[idx] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range r.order {
		idx := idx
		g.Go(func() error {
			for _, p := range r.graph.Predecessors(idx) {
				if !scheduled[p] {
					continue
				}
				select {
				case <-done[p]:
				case <-gctx.Done():
					states[idx] = Completed{Outcome: OutcomeDependencyFailed}
					close(done[idx])
					return nil
				}
			}

			mu.Lock()
			depFailed := false
			for _, p := range r.graph.Predecessors(idx) {
				if !scheduled[p] {
					continue
				}
				if states[p].HasFailed() {
					depFailed = true
					break
				}
			}
			mu.Unlock()

			if depFailed {
				states[idx] = Completed{Outcome: OutcomeDependencyFailed}
				close(done[idx])
				return nil
			}

			if err := r.sem.Acquire(gctx, 1); err != nil {
				states[idx] = Completed{Outcome: OutcomeDependencyFailed}
				close(done[idx])
				return nil
			}

			mu.Lock()
			snapshot := make(map[string]json.RawMessage, len(outputs))
			for k, v := range outputs {
				snapshot[k] = v
			}
			mu.Unlock()

			completed := r.runOne(gctx, r.graph.Task(idx), snapshot)
			r.sem.Release(1)

			states[idx] = completed
			if completed.Outcome == OutcomeSuccess || completed.Outcome == OutcomeSkippedCached {
				if completed.Output != nil {
					mu.Lock()
					outputs[r.graph.Task(idx).Name] = completed.Output
					mu.Unlock()
				}
			}
			close(done[idx])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Results{States: states, Outputs: outputs}, nil
}

// runOne applies the skip logic, then runs the task through r.executor if
// it isn't skipped (spec.md §4.I "Skip logic").
func (r *Runner) runOne(ctx context.Context, t Task, outputs map[string]json.RawMessage) Completed {
	start := time.Now()

	if t.Status != "" {
		ec := ExecutionContext{Command: t.Status, Cwd: t.Cwd, UseSudo: t.UseSudo, OutputFilePath: os.DevNull}
		result := r.executor.Execute(ctx, ec, r.cb)
		if result.Success {
			output, _, _ := r.cache.LoadOutput(ctx, t.Name)
			return Completed{Outcome: OutcomeSkippedCached, Duration: time.Since(start), Output: output}
		}
	}

	paths := expandGlobs(t.ExecIfModified)
	if len(paths) > 0 {
		modified, err := r.cache.FilesModified(ctx, t.Name, paths)
		if err == nil && !modified {
			output, _, _ := r.cache.LoadOutput(ctx, t.Name)
			return Completed{Outcome: OutcomeSkippedCached, Duration: time.Since(start), Output: output}
		}
	}

	if t.Command == "" {
		return Completed{Outcome: OutcomeSuccess, Duration: time.Since(start)}
	}

	outputFile, err := os.CreateTemp("", "devenv_task_output_*.json")
	if err != nil {
		return Completed{Outcome: OutcomeFailed, Duration: time.Since(start), Failure: &Failure{Error: fmt.Sprintf("failed to create output file: %v", err)}}
	}
	outputFile.Close()
	defer os.Remove(outputFile.Name())

	ec := ExecutionContext{
		Command:        t.Command,
		Cwd:            t.Cwd,
		UseSudo:        t.UseSudo,
		OutputFilePath: outputFile.Name(),
		Env:            buildEnv(t, outputs),
	}
	result := r.executor.Execute(ctx, ec, r.cb)

	// "After each task run, update the tracked-file store for every
	// expanded path in exec_if_modified, regardless of exit status."
	if len(paths) > 0 {
		_, _ = r.cache.FilesModified(ctx, t.Name, paths)
	}

	if !result.Success {
		return Completed{
			Outcome:  OutcomeFailed,
			Duration: time.Since(start),
			Failure:  &Failure{Stdout: result.Stdout, Stderr: result.Stderr, Error: result.Error},
		}
	}

	output := readTaskOutput(outputFile.Name())
	if output != nil {
		_ = r.cache.StoreOutput(ctx, t.Name, output)
	}
	return Completed{Outcome: OutcomeSuccess, Duration: time.Since(start), Output: output}
}

func readTaskOutput(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return nil
	}
	return json.RawMessage(data)
}

func expandGlobs(patterns []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil || len(matches) == 0 {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

// buildEnv materializes DEVENV_TASK_INPUT, DEVENV_TASKS_OUTPUTS, and
// per-output-env DEVENV_TASK_ENV export lines from completed predecessor
// outputs (spec.md §4.I "materialized into descendants' environment").
func buildEnv(t Task, outputs map[string]json.RawMessage) map[string]string {
	env := map[string]string{}

	if t.Input != nil {
		if b, err := json.Marshal(t.Input); err == nil {
			env["DEVENV_TASK_INPUT"] = string(b)
		}
	}

	if b, err := json.Marshal(outputs); err == nil {
		env["DEVENV_TASKS_OUTPUTS"] = string(b)
	}

	var exportLines string
	for _, raw := range outputs {
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			continue
		}
		devenvRaw, ok := obj["devenv"]
		if !ok {
			continue
		}
		var devenv struct {
			Env map[string]string `json:"env"`
		}
		if json.Unmarshal(devenvRaw, &devenv) != nil {
			continue
		}
		for k, v := range devenv.Env {
			env[k] = v
			exportLines += fmt.Sprintf("export %s=%s\n", k, shellQuoteEnv(v))
		}
	}
	env["DEVENV_TASK_ENV"] = exportLines

	return env
}

func shellQuoteEnv(v string) string {
	out := make([]byte, 0, len(v)+2)
	out = append(out, '\'')
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, v[i])
	}
	out = append(out, '\'')
	return string(out)
}
