package evalinput

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCheckFileStateUnchangedImmediatelyAfterNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	desc, err := NewFileDesc(path, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	state, _, err := CheckFileState(desc)
	if err != nil {
		t.Fatal(err)
	}
	if state != Unchanged {
		t.Fatalf("expected Unchanged immediately after capture, got %v", state)
	}
}

func TestTouchOnlyIsMetadataModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	desc, err := NewFileDesc(path, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	// Touch without modifying content: same content, but force a later mtime
	// the way a real touch would produce (truncated to the second already).
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	state, next, err := CheckFileState(desc)
	if err != nil {
		t.Fatal(err)
	}
	if state != MetadataModified {
		t.Fatalf("expected MetadataModified for touch-only, got %v", state)
	}
	if HasContentChanged(desc) {
		t.Fatal("MetadataModified must not count as a content change")
	}
	if next.ContentHash != desc.ContentHash {
		t.Fatal("content hash must be unchanged for a touch-only update")
	}
}

func TestContentChangeDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	desc, err := NewFileDesc(path, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte("goodbye"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	state, _, err := CheckFileState(desc)
	if err != nil {
		t.Fatal(err)
	}
	if state != Modified {
		t.Fatalf("expected Modified, got %v", state)
	}
	if !HasContentChanged(desc) {
		t.Fatal("expected content change to be detected")
	}
}

func TestRemovedFileDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	desc, err := NewFileDesc(path, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	state, _, err := CheckFileState(desc)
	if err != nil {
		t.Fatal(err)
	}
	if state != Removed {
		t.Fatalf("expected Removed, got %v", state)
	}
	if !HasContentChanged(desc) {
		t.Fatal("removed file must count as a content change")
	}
}

func TestEnvEmptyStringNormalizesToAbsent(t *testing.T) {
	t.Setenv("DEVENV_TEST_EMPTY", "")
	desc := NewEnvDesc("DEVENV_TEST_EMPTY")
	if desc.ContentHash != "" {
		t.Fatalf("expected empty-string env to normalize to absent, got hash %q", desc.ContentHash)
	}
}

func TestEnvChangeDetected(t *testing.T) {
	t.Setenv("DEVENV_TEST_VAR", "one")
	desc := NewEnvDesc("DEVENV_TEST_VAR")
	if CheckEnvState(desc) {
		t.Fatal("unchanged env must report unchanged")
	}
	t.Setenv("DEVENV_TEST_VAR", "two")
	if !CheckEnvState(desc) {
		t.Fatal("changed env value must be detected")
	}
}

func TestDedupeFilesKeepsNewestMtimeFirst(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	files := []FileDesc{
		{Path: "/a", ModifiedAt: older, ContentHash: "old"},
		{Path: "/a", ModifiedAt: newer, ContentHash: "new"},
	}
	SortFiles(files)
	deduped := DedupeFiles(files)
	if len(deduped) != 1 {
		t.Fatalf("expected dedupe to collapse to one entry, got %d", len(deduped))
	}
	if deduped[0].ContentHash != "new" {
		t.Fatalf("expected newest-mtime entry to win dedupe, got %q", deduped[0].ContentHash)
	}
}

func TestMissingPathUsesFallbackTimestamp(t *testing.T) {
	fallback := time.Now().Add(-time.Hour).Truncate(time.Second)
	desc, err := NewFileDesc("/nonexistent/path/for/test", fallback)
	if err != nil {
		t.Fatal(err)
	}
	if !desc.ModifiedAt.Equal(fallback) {
		t.Fatalf("expected fallback timestamp %v, got %v", fallback, desc.ModifiedAt)
	}
	if desc.ContentHash != "" {
		t.Fatal("missing path must have empty content hash")
	}
}
