// Package evalcache implements the content-addressed evaluation cache:
// key computation, input validation, persistence, and the miss-path input
// collector (spec.md §4.C). Persistence follows the teacher's boxer.go
// pattern exactly: modernc.org/sqlite, WAL mode, an embedded schema, and a
// sqlc-shaped Queries layer (evalcache/db).
package evalcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banksean/devenv/evalcache/db"
	"github.com/banksean/devenv/evalinput"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

// Store is the persistent, content-addressed evaluation cache.
type Store struct {
	sqlDB   *sql.DB
	queries *db.Queries
}

// Open opens (creating if necessary) the cache database at dbPath, enabling
// WAL mode and applying the embedded schema — identical startup sequence to
// boxer.go's NewBoxer.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open eval cache database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Store{sqlDB: sqlDB, queries: db.New(sqlDB)}, nil
}

func (s *Store) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Key computes the 64-hex eval cache key: sha256(serializedArgs || ':' || attrName)
// (spec.md §3).
func Key(serializedArgs, attrName string) string {
	sum := sha256.Sum256([]byte(serializedArgs + ":" + attrName))
	return hex.EncodeToString(sum[:])
}

// Inputs bundles the file and env descriptors captured for one evaluation.
type Inputs struct {
	Files []evalinput.FileDesc
	Envs  []evalinput.EnvDesc
}

// EvalFunc runs the evaluator and returns the resulting JSON plus the inputs
// it touched while doing so (already collected via a Collector — see
// collector.go).
type EvalFunc func(ctx context.Context) (json string, inputs Inputs, err error)

// Options tunes a single Get call.
type Options struct {
	ForceRefresh     bool
	ExtraWatchPaths  []string
	ExcludedPaths    map[string]bool
	ExcludeStorePath func(path string) bool
}

// Get implements the public cache operation of spec.md §4.C: given a key and
// an evaluation function, return (json, cacheHit). On a validated hit the
// stored row's updated_at is bumped and the cached JSON returned unchanged.
// On a miss, eval runs, its observed inputs are normalized, and the result
// is stored (a store failure is logged and swallowed — the caller still
// gets a valid JSON value, per spec.md §7).
func (s *Store) Get(ctx context.Context, key, attrName string, opts Options, eval EvalFunc) (string, bool, error) {
	if !opts.ForceRefresh {
		if json, hit, err := s.tryHit(ctx, key, opts); err != nil {
			return "", false, err
		} else if hit {
			return json, true, nil
		}
	}

	resultJSON, inputs, err := eval(ctx)
	if err != nil {
		return "", false, fmt.Errorf("evaluation failed: %w", err)
	}

	files, envs := normalizeInputs(inputs, opts)
	if storeErr := s.store(ctx, key, attrName, files, envs, resultJSON); storeErr != nil {
		// Cache storage failure never fails the caller (spec.md §7).
		fmt.Fprintf(os.Stderr, "devenv: warning: failed to persist eval cache entry %s: %v\n", key, storeErr)
	}

	return resultJSON, false, nil
}

func normalizeInputs(inputs Inputs, opts Options) ([]evalinput.FileDesc, []evalinput.EnvDesc) {
	files := append([]evalinput.FileDesc(nil), inputs.Files...)
	for _, p := range opts.ExtraWatchPaths {
		if opts.ExcludedPaths[p] {
			continue
		}
		if opts.ExcludeStorePath != nil && opts.ExcludeStorePath(p) {
			continue
		}
		desc, err := evalinput.NewFileDesc(p, time.Now())
		if err == nil {
			files = append(files, desc)
		}
	}

	filtered := files[:0:0]
	for _, f := range files {
		if !filepath.IsAbs(f.Path) {
			continue
		}
		if opts.ExcludedPaths[f.Path] {
			continue
		}
		if opts.ExcludeStorePath != nil && opts.ExcludeStorePath(f.Path) {
			continue
		}
		filtered = append(filtered, f)
	}

	evalinput.SortFiles(filtered)
	filtered = evalinput.DedupeFiles(filtered)

	envs := append([]evalinput.EnvDesc(nil), inputs.Envs...)
	evalinput.SortEnvs(envs)
	envs = evalinput.DedupeEnvs(envs)

	return filtered, envs
}

// tryHit looks up key and validates it against the live filesystem/env
// state, implementing spec.md §4.C's lookup+validate algorithm.
func (s *Store) tryHit(ctx context.Context, key string, opts Options) (string, bool, error) {
	row, err := s.queries.GetEval(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("eval cache lookup failed: %w", err)
	}

	fileRows, err := s.queries.ListFileInputs(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("eval cache load file inputs failed: %w", err)
	}
	envRows, err := s.queries.ListEnvInputs(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("eval cache load env inputs failed: %w", err)
	}

	files := make([]evalinput.FileDesc, len(fileRows))
	for i, r := range fileRows {
		mtime, _ := time.Parse(time.RFC3339Nano, r.ModifiedAt)
		files[i] = evalinput.FileDesc{Path: r.Path, IsDirectory: r.IsDirectory, ContentHash: r.ContentHash, ModifiedAt: mtime}
	}
	envs := make([]evalinput.EnvDesc, len(envRows))
	for i, r := range envRows {
		envs[i] = evalinput.EnvDesc{Name: r.Name, ContentHash: r.ContentHash}
	}

	recomputed := evalinput.InputSetHash(appendExtraWatch(files, opts), envs)
	if recomputed != row.InputSetHash {
		return "", false, nil
	}

	if ok, err := s.validateInputs(ctx, files, envs); err != nil {
		return "", false, err
	} else if !ok {
		return "", false, nil
	}

	now := time.Now().Format(time.RFC3339Nano)
	if err := s.queries.TouchEval(ctx, key, now); err != nil {
		return "", false, fmt.Errorf("eval cache touch failed: %w", err)
	}

	return row.JSON, true, nil
}

func appendExtraWatch(files []evalinput.FileDesc, opts Options) []evalinput.FileDesc {
	if len(opts.ExtraWatchPaths) == 0 {
		return files
	}
	out := append([]evalinput.FileDesc(nil), files...)
	for _, p := range opts.ExtraWatchPaths {
		desc, err := evalinput.NewFileDesc(p, time.Now())
		if err == nil {
			out = append(out, desc)
		}
	}
	evalinput.SortFiles(out)
	return evalinput.DedupeFiles(out)
}

// validateInputs fans file-state checks out to a bounded worker pool
// (golang.org/x/sync/errgroup), aborting early on the first Modified/Removed
// or error — spec.md §4.C: "any error or Modified/Removed aborts validation
// early."
func (s *Store) validateInputs(ctx context.Context, files []evalinput.FileDesc, envs []evalinput.EnvDesc) (bool, error) {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)

	stale := make(chan struct{}, 1)
	for _, f := range files {
		if len(stale) > 0 {
			break // an earlier check already found a stale input
		}
		f := f
		g.Go(func() error {
			state, _, err := evalinput.CheckFileState(f)
			if err != nil {
				select {
				case stale <- struct{}{}:
				default:
				}
				return nil // conservative: treat I/O error as "not unchanged", not a hard error
			}
			if state == evalinput.Modified || state == evalinput.Removed {
				select {
				case stale <- struct{}{}:
				default:
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	select {
	case <-stale:
		return false, nil
	default:
	}

	for _, e := range envs {
		if evalinput.CheckEnvState(e) {
			return false, nil
		}
	}

	return true, nil
}

func (s *Store) store(ctx context.Context, key, attrName string, files []evalinput.FileDesc, envs []evalinput.EnvDesc, json string) error {
	now := time.Now().Format(time.RFC3339Nano)
	inputHash := evalinput.InputSetHash(files, envs)

	if err := s.queries.UpsertEval(ctx, db.UpsertEvalParams{
		Key: key, AttrName: attrName, InputSetHash: inputHash, JSON: json, Now: now,
	}); err != nil {
		return err
	}
	if err := s.queries.DeleteEvalInputs(ctx, key); err != nil {
		return err
	}
	for _, f := range files {
		if err := s.queries.InsertFileInput(ctx, key, db.FileInputRow{
			Path: f.Path, IsDirectory: f.IsDirectory, ContentHash: f.ContentHash,
			ModifiedAt: f.ModifiedAt.Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	for _, e := range envs {
		if err := s.queries.InsertEnvInput(ctx, key, db.EnvInputRow{Name: e.Name, ContentHash: e.ContentHash}); err != nil {
			return err
		}
	}
	return nil
}
