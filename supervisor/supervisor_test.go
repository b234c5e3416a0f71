package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

// fakeProcess is a controllable Process for tests, following the teacher's
// mock-interface-injection style (fakeBuilder in reload/manager_test.go).
type fakeProcess struct {
	exit    chan ExitStatus
	signals chan syscall.Signal
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan ExitStatus, 1), signals: make(chan syscall.Signal, 4)}
}

func (p *fakeProcess) Wait() (ExitStatus, error) {
	return <-p.exit, nil
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	select {
	case p.signals <- sig:
	default:
	}
	if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
		select {
		case p.exit <- ExitSuccess:
		default:
		}
	}
	return nil
}

type fakeTarget struct {
	mu        sync.Mutex
	processes []*fakeProcess
	starts    atomic.Int32
}

func (f *fakeTarget) String() string { return "fake" }

func (f *fakeTarget) Start(ctx context.Context) (Process, error) {
	f.starts.Add(1)
	p := newFakeProcess()
	f.mu.Lock()
	f.processes = append(f.processes, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeTarget) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processes[len(f.processes)-1]
}

func TestSupervisorRestartsOnFailureExit(t *testing.T) {
	target := &fakeTarget{}
	sup := New(ProcessConfig{
		Name:          "web",
		RestartWindow: time.Minute,
		MaxRestarts:   3,
		GracePeriod:   10 * time.Millisecond,
	}, target)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	waitForStarts(t, target, 1)
	target.last().exit <- ExitFailure

	waitForStarts(t, target, 2)
	sup.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down after Stop")
	}
}

func TestSupervisorGivesUpAfterRestartBudgetExhausted(t *testing.T) {
	target := &fakeTarget{}
	sup := New(ProcessConfig{
		Name:          "web",
		RestartWindow: time.Minute,
		MaxRestarts:   0,
		GracePeriod:   10 * time.Millisecond,
	}, target)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	waitForStarts(t, target, 1)
	target.last().exit <- ExitFailure
	waitForStarts(t, target, 2)
	target.last().exit <- ExitFailure

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to return a give-up error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not give up in time")
	}
}

func TestSupervisorReloadRestartsWithoutCountingAgainstBudget(t *testing.T) {
	target := &fakeTarget{}
	sup := New(ProcessConfig{
		Name:          "web",
		RestartWindow: time.Minute,
		MaxRestarts:   1,
		GracePeriod:   10 * time.Millisecond,
	}, target)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	waitForStarts(t, target, 1)
	sup.Reload()
	waitForStarts(t, target, 2)
	sup.Reload()
	waitForStarts(t, target, 3)

	sup.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected file-change restarts to bypass the restart budget, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down after Stop")
	}
}

func waitForStarts(t *testing.T, target *fakeTarget, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if target.starts.Load() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d starts, got %d", n, target.starts.Load())
}
