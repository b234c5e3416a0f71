package filewatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watchTimeout = 5 * time.Second

func TestDetectsFileModification(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.nix")
	if err := os.WriteFile(file, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(Config{Paths: []string{file}, Recursive: false, Throttle: 20 * time.Millisecond})
	defer w.Close()

	if err := os.WriteFile(file, []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		resolved, _ := filepath.EvalSymlinks(file)
		if ev.Path != resolved && ev.Path != file {
			t.Fatalf("unexpected event path: %s", ev.Path)
		}
	case <-time.After(watchTimeout):
		t.Fatal("timed out waiting for file change event")
	}
}

func TestNonexistentPathBlocksForever(t *testing.T) {
	w := New(Config{Paths: []string{"/this/path/does/not/exist/file.nix"}, Recursive: false})
	defer w.Close()

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEmptyConfigBlocksForever(t *testing.T) {
	w := New(Config{})
	defer w.Close()

	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchAddsRuntimePath(t *testing.T) {
	dir := t.TempDir()
	initial := filepath.Join(dir, "initial.nix")
	runtime := filepath.Join(dir, "runtime.nix")
	if err := os.WriteFile(initial, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(runtime, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(Config{Paths: []string{initial}, Recursive: false, Throttle: 20 * time.Millisecond})
	defer w.Close()
	w.Watch(runtime)

	if err := os.WriteFile(runtime, []byte("b modified"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		resolved, _ := filepath.EvalSymlinks(runtime)
		if ev.Path != resolved && ev.Path != runtime {
			t.Fatalf("unexpected event path: %s", ev.Path)
		}
	case <-time.After(watchTimeout):
		t.Fatal("timed out waiting for runtime-added path event")
	}
}

func TestExtensionFilterExcludesOtherFiles(t *testing.T) {
	dir := t.TempDir()
	ignored := filepath.Join(dir, "ignored.txt")
	if err := os.WriteFile(ignored, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := New(Config{Paths: []string{dir}, Recursive: true, Extensions: []string{"nix"}, Throttle: 20 * time.Millisecond})
	defer w.Close()

	if err := os.WriteFile(ignored, []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("expected .txt file to be filtered out, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}
