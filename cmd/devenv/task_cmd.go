package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/banksean/devenv/tasks"
)

// taskManifestEntry is the on-disk shape of one task in the manifest file
// TaskCmd reads. The evaluator that would normally produce a task DAG is
// out of scope (spec.md's component boundary); a JSON manifest is the
// pragmatic stand-in, matching the task output contract's own JSON
// convention (spec.md §6 "Task output contract").
type taskManifestEntry struct {
	Name           string   `json:"name"`
	Command        string   `json:"command"`
	Status         string   `json:"status"`
	Cwd            string   `json:"cwd"`
	Input          any      `json:"input"`
	After          []string `json:"after"`
	Before         []string `json:"before"`
	ExecIfModified []string `json:"exec_if_modified"`
	UseSudo        bool     `json:"use_sudo"`
}

// TaskCmd runs a task manifest's DAG (spec.md §3 "Task DAG", §4.I).
type TaskCmd struct {
	Root []string `arg:"" optional:"" help:"root task names or namespace prefixes to run (default: every task in the manifest)"`

	File string `default:"devenv.tasks.json" help:"path to the task manifest"`
	Mode string `default:"single" enum:"single,after,before,all" help:"scheduling mode relative to the given roots"`
}

func (c *TaskCmd) Run(cctx *Context) error {
	ctx := context.Background()

	// Every invocation gets its own run id, the same way cmd/sand/exec_cmd.go
	// and cmd/sand/shell_cmd.go generate a uuid for each sandbox session when
	// the caller doesn't supply one, so parallel task runs can be told apart
	// in the log stream.
	runID := uuid.NewString()
	slog.InfoContext(ctx, "task run starting", "run_id", runID, "file", c.File, "roots", c.Root)

	entries, err := loadTaskManifest(c.File)
	if err != nil {
		return err
	}

	taskList := make([]tasks.Task, 0, len(entries))
	for _, e := range entries {
		taskList = append(taskList, tasks.Task{
			Name:           e.Name,
			Command:        e.Command,
			Status:         e.Status,
			Cwd:            e.Cwd,
			Input:          e.Input,
			After:          e.After,
			Before:         e.Before,
			ExecIfModified: e.ExecIfModified,
			UseSudo:        e.UseSudo,
		})
	}

	roots := c.Root
	if len(roots) == 0 {
		for _, e := range entries {
			roots = append(roots, e.Name)
		}
	}

	graph, err := tasks.NewGraph(taskList, roots)
	if err != nil {
		return fmt.Errorf("build task graph: %w", err)
	}

	mode := map[string]tasks.RunMode{
		"single": tasks.RunSingle,
		"after":  tasks.RunAfter,
		"before": tasks.RunBefore,
		"all":    tasks.RunAll,
	}[c.Mode]

	order, err := graph.Schedule(mode)
	if err != nil {
		return fmt.Errorf("schedule tasks: %w", err)
	}

	cachePath := filepath.Join(cctx.AppBaseDir, "tasks.db")
	cache, err := tasks.OpenCache(cachePath)
	if err != nil {
		return fmt.Errorf("open task cache: %w", err)
	}
	defer cache.Close()

	runner := tasks.NewRunner(graph, order, tasks.SubprocessExecutor{}, cache, cctx.MaxJobs, nil)
	results, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("run tasks: %w", err)
	}
	slog.InfoContext(ctx, "task run finished", "run_id", runID)

	return printTaskResults(graph, order, results)
}

func loadTaskManifest(path string) ([]taskManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task manifest %s: %w", path, err)
	}
	var entries []taskManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse task manifest %s: %w", path, err)
	}
	return entries, nil
}

func printTaskResults(graph *tasks.Graph, order []int, results *tasks.Results) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tOUTCOME\tDURATION\t")
	failed := false
	for _, idx := range order {
		t := graph.Task(idx)
		c := results.States[idx]
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", t.Name, outcomeString(c.Outcome), c.Duration)
		if c.Outcome == tasks.OutcomeFailed {
			failed = true
		}
	}
	w.Flush()
	if failed {
		return fmt.Errorf("one or more tasks failed")
	}
	return nil
}

func outcomeString(o tasks.Outcome) string {
	switch o {
	case tasks.OutcomeSuccess:
		return "success"
	case tasks.OutcomeFailed:
		return "failed"
	case tasks.OutcomeSkippedCached:
		return "cached"
	case tasks.OutcomeDependencyFailed:
		return "dependency_failed"
	default:
		return "unknown"
	}
}
