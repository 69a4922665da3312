// Package state persists engine tasks in sqlite so downloads survive restarts.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

// Task is one persisted engine task
type Task struct {
	ID           types.TaskID
	Name         string
	URL          string
	Status       types.TaskStatus
	RelativePath string // artifact or work dir, relative to the storage root
	CreatedAt    int64  // Unix timestamp
	UpdatedAt    int64  // Unix timestamp
}

// Store wraps the task database
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	rel_path TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// Open opens (creating if needed) the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task database: %w", err)
	}
	// sqlite serializes writers; one connection also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate task database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a new task
func (s *Store) Insert(ctx context.Context, t Task) error {
	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, url, status, rel_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), t.Name, t.URL, string(t.Status), t.RelativePath, t.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// Get loads one task
func (s *Store) Get(ctx context.Context, id types.TaskID) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, status, rel_path, created_at, updated_at FROM tasks WHERE id = ?`, string(id))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// SetStatus updates a task's status
func (s *Store) SetStatus(ctx context.Context, id types.TaskID, status types.TaskStatus) error {
	return s.update(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().Unix(), string(id))
}

// SetRelativePath records where the task writes its data
func (s *Store) SetRelativePath(ctx context.Context, id types.TaskID, rel string) error {
	return s.update(ctx, `UPDATE tasks SET rel_path = ?, updated_at = ? WHERE id = ?`, rel, time.Now().Unix(), string(id))
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnfinished returns tasks that have not reached a terminal status, oldest first
func (s *Store) ListUnfinished(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, status, rel_path, created_at, updated_at FROM tasks
		 WHERE status NOT IN (?, ?, ?) ORDER BY created_at, id`,
		string(types.TaskCompleted), string(types.TaskCancelled), string(types.TaskFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// PurgeFinished deletes terminal tasks last updated before cutoff
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(types.TaskCompleted), string(types.TaskCancelled), string(types.TaskFailed), cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var t Task
	var id, status string
	if err := sc.Scan(&id, &t.Name, &t.URL, &status, &t.RelativePath, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ID = types.TaskID(id)
	t.Status = types.TaskStatus(status)
	return &t, nil
}
