package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banksean/devenv/evalinput"
	_ "modernc.org/sqlite"
)

// Cache persists two things across runs: the tracked-file store backing
// exec_if_modified skip decisions, and each task's last JSON output for
// DEVENV_TASKS_OUTPUTS reuse on a cache hit (spec.md §4.I, grounded on
// devenv-tasks/src/task_cache.rs). It shares modernc.org/sqlite with
// evalcache but keeps its own schema — the tracked-file/output surface here
// is small enough that a hand-rolled two-table schema reads more plainly
// than reusing evalcache's generated Queries layer for an unrelated table
// set.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if necessary) the task cache database at
// dbPath.
func OpenCache(dbPath string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open task cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS tracked_files (
	task_name TEXT NOT NULL,
	path TEXT NOT NULL,
	is_directory INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	mtime_unix INTEGER NOT NULL,
	PRIMARY KEY (task_name, path)
);
CREATE TABLE IF NOT EXISTS task_outputs (
	task_name TEXT PRIMARY KEY,
	output_json TEXT NOT NULL,
	updated_at_unix INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply task cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// FilesModified reports whether any of paths (already glob-expanded by the
// caller) has changed content since the last recorded snapshot for
// taskName, and records the current snapshot either way — "After each task
// run, update the tracked-file store for every expanded path in
// exec_if_modified, regardless of exit status" (spec.md §4.I).
func (c *Cache) FilesModified(ctx context.Context, taskName string, paths []string) (bool, error) {
	modified := false
	for _, p := range paths {
		prev, err := c.loadFileDesc(ctx, taskName, p)
		if err != nil {
			return true, err // conservative: treat a read error as "modified"
		}
		state, newDesc, err := evalinput.CheckFileState(prev)
		if err != nil {
			modified = true
		} else {
			switch state {
			case evalinput.Modified, evalinput.Removed:
				modified = true
			}
		}
		if err := c.storeFileDesc(ctx, taskName, newDesc); err != nil {
			return modified, err
		}
	}
	return modified, nil
}

func (c *Cache) loadFileDesc(ctx context.Context, taskName, path string) (evalinput.FileDesc, error) {
	var isDir int
	var hash string
	var mtimeUnix int64
	err := c.db.QueryRowContext(ctx,
		`SELECT is_directory, content_hash, mtime_unix FROM tracked_files WHERE task_name = ? AND path = ?`,
		taskName, path).Scan(&isDir, &hash, &mtimeUnix)
	if err == sql.ErrNoRows {
		return evalinput.FileDesc{Path: path}, nil
	}
	if err != nil {
		return evalinput.FileDesc{}, err
	}
	return evalinput.FileDesc{
		Path:        path,
		IsDirectory: isDir != 0,
		ContentHash: hash,
		ModifiedAt:  time.Unix(mtimeUnix, 0).UTC(),
	}, nil
}

func (c *Cache) storeFileDesc(ctx context.Context, taskName string, d evalinput.FileDesc) error {
	isDir := 0
	if d.IsDirectory {
		isDir = 1
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tracked_files (task_name, path, is_directory, content_hash, mtime_unix)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, path) DO UPDATE SET
		   is_directory = excluded.is_directory,
		   content_hash = excluded.content_hash,
		   mtime_unix = excluded.mtime_unix`,
		taskName, d.Path, isDir, d.ContentHash, d.ModifiedAt.Unix())
	return err
}

// StoreOutput persists a successful task's JSON output for future skip
// decisions (spec.md §4.I "Post-run, for every successful task with a JSON
// output, persist that output keyed by task name").
func (c *Cache) StoreOutput(ctx context.Context, taskName string, output json.RawMessage) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO task_outputs (task_name, output_json, updated_at_unix) VALUES (?, ?, ?)
		 ON CONFLICT(task_name) DO UPDATE SET output_json = excluded.output_json, updated_at_unix = excluded.updated_at_unix`,
		taskName, string(output), time.Now().Unix())
	return err
}

// LoadOutput returns the last persisted output for taskName, if any.
func (c *Cache) LoadOutput(ctx context.Context, taskName string) (json.RawMessage, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT output_json FROM task_outputs WHERE task_name = ?`, taskName).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}
