package tasks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// fakeExecutor lets tests control exactly what each command "does" without
// spawning real processes, following the teacher's mock-interface-injection
// test style.
type fakeExecutor struct {
	results map[string]ExecutionResult
}

func (f *fakeExecutor) Execute(ctx context.Context, ec ExecutionContext, cb OutputCallback) ExecutionResult {
	r, ok := f.results[ec.Command]
	if !ok {
		return ExecutionResult{Success: true}
	}
	if len(r.Stdout) == 1 && ec.OutputFilePath != "" && ec.OutputFilePath != os.DevNull {
		_ = os.WriteFile(ec.OutputFilePath, []byte(r.Stdout[0]), 0o644)
	}
	return r
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunnerMarksDependencyFailed(t *testing.T) {
	tasksList := []Task{
		{Name: "ns:build", Command: "fail-me"},
		{Name: "ns:test", Command: "echo ok", After: []string{"ns:build"}},
	}
	g, err := NewGraph(tasksList, []string{"ns:test"})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	order, err := g.Schedule(RunAll)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	exec := &fakeExecutor{results: map[string]ExecutionResult{
		"fail-me": {Success: false, Error: "boom"},
	}}
	runner := NewRunner(g, order, exec, newTestCache(t), 4, nil)

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buildIdx, testIdx int
	for _, idx := range order {
		switch g.Task(idx).Name {
		case "ns:build":
			buildIdx = idx
		case "ns:test":
			testIdx = idx
		}
	}
	if results.States[buildIdx].Outcome != OutcomeFailed {
		t.Fatalf("expected ns:build to fail, got %v", results.States[buildIdx].Outcome)
	}
	if results.States[testIdx].Outcome != OutcomeDependencyFailed {
		t.Fatalf("expected ns:test to be DependencyFailed, got %v", results.States[testIdx].Outcome)
	}
}

func TestRunnerPropagatesOutputsToDependents(t *testing.T) {
	tasksList := []Task{
		{Name: "ns:build", Command: "produce"},
		{Name: "ns:deploy", Command: "consume", After: []string{"ns:build"}},
	}
	g, err := NewGraph(tasksList, []string{"ns:deploy"})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	order, err := g.Schedule(RunAll)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	exec := &fakeExecutor{results: map[string]ExecutionResult{
		"produce": {Success: true, Stdout: []string{`{"devenv":{"env":{"FOO":"bar"}}}`}},
		"consume": {Success: true},
	}}
	runner := NewRunner(g, order, exec, newTestCache(t), 4, nil)

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := results.Outputs["ns:build"]; !ok {
		t.Fatalf("expected ns:build output to be recorded, got %v", results.Outputs)
	}

	var raw json.RawMessage = results.Outputs["ns:build"]
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unexpected output shape: %v", err)
	}
}

func TestRunnerSkipsWhenStatusCommandSucceeds(t *testing.T) {
	tasksList := []Task{
		{Name: "ns:build", Command: "build.sh", Status: "check.sh"},
	}
	g, err := NewGraph(tasksList, []string{"ns:build"})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	order, err := g.Schedule(RunAll)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	exec := &fakeExecutor{results: map[string]ExecutionResult{
		"check.sh": {Success: true},
		"build.sh": {Success: false, Error: "should not run"},
	}}
	runner := NewRunner(g, order, exec, newTestCache(t), 1, nil)

	results, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results.States[order[0]].Outcome != OutcomeSkippedCached {
		t.Fatalf("expected task to be skipped via status command, got %v", results.States[order[0]].Outcome)
	}
}
