package tasks

import "testing"

func TestValidateRejectsBadNames(t *testing.T) {
	cases := []struct {
		name string
		task Task
	}{
		{"no namespace", Task{Name: "build"}},
		{"leading colon", Task{Name: ":build"}},
		{"trailing colon", Task{Name: "build:"}},
		{"bad char", Task{Name: "build:app!"}},
		{"status without command", Task{Name: "ns:task", Status: "check.sh"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.task.Validate(); err == nil {
				t.Fatalf("expected validation error for %+v", c.task)
			}
		})
	}
}

func TestValidateAcceptsWellFormedTask(t *testing.T) {
	task := Task{Name: "myapp:build", Command: "make", Status: "test -f bin"}
	if err := task.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestNewGraphResolvesNamespaceRoots(t *testing.T) {
	tasks := []Task{
		{Name: "myapp:build"},
		{Name: "myapp:test", After: []string{"myapp:build"}},
		{Name: "other:build"},
	}
	g, err := NewGraph(tasks, []string{"myapp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.roots) != 2 {
		t.Fatalf("expected namespace prefix to resolve to 2 roots, got %d", len(g.roots))
	}
}

func TestNewGraphReportsUnresolvedDependency(t *testing.T) {
	tasks := []Task{{Name: "myapp:build", After: []string{"myapp:missing"}}}
	if _, err := NewGraph(tasks, []string{"myapp:build"}); err == nil {
		t.Fatal("expected unresolved-dependency error")
	}
}

func TestScheduleTopoOrderRespectsAfter(t *testing.T) {
	tasks := []Task{
		{Name: "ns:build"},
		{Name: "ns:test", After: []string{"ns:build"}},
		{Name: "ns:deploy", After: []string{"ns:test"}},
	}
	g, err := NewGraph(tasks, []string{"ns:deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order, err := g.Schedule(RunAll)
	if err != nil {
		t.Fatalf("unexpected schedule error: %v", err)
	}
	pos := map[string]int{}
	for i, idx := range order {
		pos[g.Task(idx).Name] = i
	}
	if !(pos["ns:build"] < pos["ns:test"] && pos["ns:test"] < pos["ns:deploy"]) {
		t.Fatalf("expected build < test < deploy, got order %v", order)
	}
}

func TestScheduleDetectsCycle(t *testing.T) {
	tasks := []Task{
		{Name: "ns:a", After: []string{"ns:b"}},
		{Name: "ns:b", After: []string{"ns:a"}},
	}
	g, err := NewGraph(tasks, []string{"ns:a"})
	if err != nil {
		t.Fatalf("unexpected graph error: %v", err)
	}
	if _, err := g.Schedule(RunAll); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestScheduleSingleModeOnlyIncludesRoots(t *testing.T) {
	tasks := []Task{
		{Name: "ns:build"},
		{Name: "ns:test", After: []string{"ns:build"}},
	}
	g, err := NewGraph(tasks, []string{"ns:test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order, err := g.Schedule(RunSingle)
	if err != nil {
		t.Fatalf("unexpected schedule error: %v", err)
	}
	if len(order) != 1 || g.Task(order[0]).Name != "ns:test" {
		t.Fatalf("expected only ns:test in Single mode, got %v", order)
	}
}
