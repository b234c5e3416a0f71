package reload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banksean/devenv/ptysession"
)

// fakeBuilder lets a test control exactly when Build returns, so it can
// exercise the cancel-on-newer-change race deterministically.
type fakeBuilder struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	err     error
}

func (b *fakeBuilder) Build(ctx context.Context, bc BuildContext) ([]string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return []string{"echo", "ok"}, nil
}

func newTestManager(builder Builder) *Manager {
	return New(builder, nil, nil, "/tmp", nil)
}

func TestBuildFailureSendsBuildFailedMessage(t *testing.T) {
	m := newTestManager(&fakeBuilder{err: errors.New("compile error")})
	commands := make(chan ptysession.Command, 4)

	m.onFileChange(context.Background(), "flake.nix", commands)

	select {
	case msg := <-m.Messages():
		if msg.Kind != MessageBuildFailed {
			t.Fatalf("expected BuildFailed, got %v", msg.Kind)
		}
		if len(msg.Files) != 1 || msg.Files[0] != "flake.nix" {
			t.Fatalf("expected changed file reported, got %v", msg.Files)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for BuildFailed message")
	}
}

func TestSecondChangeCancelsInFlightBuild(t *testing.T) {
	// The test manager has no session, so the surviving build fails rather
	// than succeeding into Session.Swap.
	builder := &fakeBuilder{release: make(chan struct{}), err: errors.New("still broken")}
	m := newTestManager(builder)
	commands := make(chan ptysession.Command, 8)

	m.onFileChange(context.Background(), "a.nix", commands)

	m.mu.Lock()
	firstCancel := m.cancelBuild
	m.mu.Unlock()

	m.onFileChange(context.Background(), "b.nix", commands)

	m.mu.Lock()
	secondCancel := m.cancelBuild
	m.mu.Unlock()

	if firstCancel == nil || secondCancel == nil {
		t.Fatal("expected both builds to register a cancel func")
	}

	close(builder.release)
	time.Sleep(50 * time.Millisecond)

	builder.mu.Lock()
	calls := builder.calls
	builder.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected exactly 2 build attempts (first cancelled, second ran), got %d", calls)
	}
}

func TestPendingFilesAccumulateUntilBuildCompletes(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("still broken")}
	m := newTestManager(builder)
	commands := make(chan ptysession.Command, 8)

	// First change starts (and completes, since release is nil) a build
	// before the second change arrives, so pendingFiles should have been
	// drained in between -- each BuildFailed message reports only its own
	// triggering file.
	m.onFileChange(context.Background(), "a.nix", commands)
	<-m.Messages()

	m.onFileChange(context.Background(), "b.nix", commands)
	msg := <-m.Messages()

	if len(msg.Files) != 1 || msg.Files[0] != "b.nix" {
		t.Fatalf("expected only b.nix in the second build's file list, got %v", msg.Files)
	}
}
