package daemon

import (
	"context"
	"testing"
	"time"
)

func startTestDaemon(t *testing.T) (*Daemon, *Client) {
	t.Helper()
	dir := t.TempDir()
	d := New(dir)

	go func() {
		if err := d.Serve(context.Background()); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()

	client := NewClient(dir)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := client.Ping(context.Background()); err == nil {
			return d, client
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("daemon did not come up in time")
	return nil, nil
}

func TestDaemonPingAndVersion(t *testing.T) {
	d, client := startTestDaemon(t)
	defer d.Shutdown()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := client.Version(context.Background()); err != nil {
		t.Fatalf("Version: %v", err)
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	d, client := startTestDaemon(t)
	defer d.Shutdown()
	_ = client

	second := New(d.AppBaseDir)
	err := second.Serve(context.Background())
	if err == nil {
		t.Fatal("expected second daemon instance to fail acquiring the lock")
	}
}

func TestDaemonListReflectsSupervisedProcesses(t *testing.T) {
	d, client := startTestDaemon(t)
	defer d.Shutdown()

	statuses, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(statuses) != 0 {
		t.Fatalf("expected no processes registered yet, got %v", statuses)
	}
}

func TestDaemonShutdownClosesSocket(t *testing.T) {
	d, client := startTestDaemon(t)

	if err := client.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_ = d
}
