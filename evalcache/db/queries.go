// Package db is the generated-style query layer for the eval cache's SQLite
// store, following the same shape sqlc would produce (and the same shape
// the teacher's own db.Queries took): a thin Queries struct wrapping a
// *sql.DB, one method per statement, param/row structs for anything wider
// than a couple of scalars.
package db

import (
	"context"
	"database/sql"
)

type Queries struct {
	db *sql.DB
}

func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

type Eval struct {
	Key          string
	AttrName     string
	InputSetHash string
	JSON         string
	CreatedAt    string
	UpdatedAt    string
}

type UpsertEvalParams struct {
	Key          string
	AttrName     string
	InputSetHash string
	JSON         string
	Now          string
}

func (q *Queries) UpsertEval(ctx context.Context, p UpsertEvalParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO evals (key, attr_name, input_set_hash, json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			attr_name = excluded.attr_name,
			input_set_hash = excluded.input_set_hash,
			json = excluded.json,
			updated_at = excluded.updated_at
	`, p.Key, p.AttrName, p.InputSetHash, p.JSON, p.Now, p.Now)
	return err
}

func (q *Queries) GetEval(ctx context.Context, key string) (Eval, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT key, attr_name, input_set_hash, json, created_at, updated_at
		FROM evals WHERE key = ?
	`, key)
	var e Eval
	err := row.Scan(&e.Key, &e.AttrName, &e.InputSetHash, &e.JSON, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (q *Queries) TouchEval(ctx context.Context, key, now string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE evals SET updated_at = ? WHERE key = ?`, now, key)
	return err
}

func (q *Queries) DeleteEvalInputs(ctx context.Context, key string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM eval_file_inputs WHERE eval_key = ?`, key); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM eval_env_inputs WHERE eval_key = ?`, key)
	return err
}

type FileInputRow struct {
	Path        string
	IsDirectory bool
	ContentHash string
	ModifiedAt  string
}

func (q *Queries) InsertFileInput(ctx context.Context, key string, f FileInputRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO eval_file_inputs (eval_key, path, is_directory, content_hash, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(eval_key, path) DO UPDATE SET
			is_directory = excluded.is_directory,
			content_hash = excluded.content_hash,
			modified_at = excluded.modified_at
	`, key, f.Path, f.IsDirectory, f.ContentHash, f.ModifiedAt)
	return err
}

func (q *Queries) ListFileInputs(ctx context.Context, key string) ([]FileInputRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT path, is_directory, content_hash, modified_at
		FROM eval_file_inputs WHERE eval_key = ?
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileInputRow
	for rows.Next() {
		var f FileInputRow
		if err := rows.Scan(&f.Path, &f.IsDirectory, &f.ContentHash, &f.ModifiedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type EnvInputRow struct {
	Name        string
	ContentHash string
}

func (q *Queries) InsertEnvInput(ctx context.Context, key string, e EnvInputRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO eval_env_inputs (eval_key, name, content_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(eval_key, name) DO UPDATE SET content_hash = excluded.content_hash
	`, key, e.Name, e.ContentHash)
	return err
}

func (q *Queries) ListEnvInputs(ctx context.Context, key string) ([]EnvInputRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT name, content_hash FROM eval_env_inputs WHERE eval_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnvInputRow
	for rows.Next() {
		var e EnvInputRow
		if err := rows.Scan(&e.Name, &e.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) UpsertTaskOutput(ctx context.Context, taskName, json, now string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO task_outputs (task_name, json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(task_name) DO UPDATE SET json = excluded.json, updated_at = excluded.updated_at
	`, taskName, json, now)
	return err
}

func (q *Queries) GetTaskOutput(ctx context.Context, taskName string) (string, error) {
	row := q.db.QueryRowContext(ctx, `SELECT json FROM task_outputs WHERE task_name = ?`, taskName)
	var out string
	err := row.Scan(&out)
	return out, err
}

type TrackedFileRow struct {
	Path        string
	IsDirectory bool
	ContentHash string
	ModifiedAt  string
	CheckedAt   string
}

func (q *Queries) UpsertTrackedFile(ctx context.Context, f TrackedFileRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tracked_files (path, is_directory, content_hash, modified_at, checked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			is_directory = excluded.is_directory,
			content_hash = excluded.content_hash,
			modified_at = excluded.modified_at,
			checked_at = excluded.checked_at
	`, f.Path, f.IsDirectory, f.ContentHash, f.ModifiedAt, f.CheckedAt)
	return err
}

func (q *Queries) GetTrackedFile(ctx context.Context, path string) (TrackedFileRow, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT path, is_directory, content_hash, modified_at, checked_at
		FROM tracked_files WHERE path = ?
	`, path)
	var f TrackedFileRow
	err := row.Scan(&f.Path, &f.IsDirectory, &f.ContentHash, &f.ModifiedAt, &f.CheckedAt)
	return f, err
}
