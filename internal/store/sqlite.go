package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/prreview/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// pipeline workers and API readers and avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Review Tasks ---

const taskColumns = `t.id, t.repo_url, t.pr_number, t.status, t.error, t.created_at, t.updated_at, t.started_at, t.completed_at, t.owner_pid, r.results_json`

const taskFrom = ` FROM review_tasks t LEFT JOIN review_results r ON r.task_id = t.id`

// CreateTask inserts a new task in the pending state and assigns its id.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.ReviewTask) error {
	if task.ID == "" {
		task.ID = newULID()
	}
	now := time.Now().UTC()
	task.Status = models.TaskStatusPending
	task.Error = ""
	task.Result = nil
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_tasks (id, repo_url, pr_number, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.RepoURL, task.PRNumber, string(task.Status), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask returns the task with the given id, including its result when completed.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+taskFrom+` WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListTasks returns tasks newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.ReviewTask, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.IDPrefix != "" {
		where = append(where, `t.id LIKE ? ESCAPE '\'`)
		args = append(args, likeEscaper.Replace(strings.ToUpper(filter.IDPrefix))+"%")
	}

	query := `SELECT ` + taskColumns + taskFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.ReviewTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a status transition. Transitions that move backward or leave a
// terminal state fail with ErrInvalidTransition; re-writing the current terminal
// status is a no-op that keeps the first result or error.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, update TaskUpdate) error {
	switch update.Status {
	case models.TaskStatusCompleted:
		if update.Result == nil {
			return fmt.Errorf("update task %s: completed status requires a result", id)
		}
	case models.TaskStatusFailed:
		if update.Error == "" {
			return fmt.Errorf("update task %s: failed status requires an error", id)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM review_tasks WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read task status: %w", err)
	}

	from := models.TaskStatus(current)
	if !models.CanTransition(from, update.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, update.Status)
	}
	if from == update.Status {
		return nil
	}

	now := time.Now().UTC()
	switch update.Status {
	case models.TaskStatusProcessing:
		_, err = tx.ExecContext(ctx,
			`UPDATE review_tasks SET status = ?, updated_at = ?, started_at = ?, owner_pid = ? WHERE id = ?`,
			string(update.Status), now, now, nullInt(update.OwnerPID), id)
	case models.TaskStatusFailed:
		_, err = tx.ExecContext(ctx,
			`UPDATE review_tasks SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			string(update.Status), update.Error, now, now, id)
	case models.TaskStatusCompleted:
		var data []byte
		data, err = json.Marshal(update.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO review_results (task_id, results_json, created_at) VALUES (?, ?, ?)`,
			id, string(data), now)
		if err != nil {
			return fmt.Errorf("save result: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE review_tasks SET status = ?, error = NULL, updated_at = ?, completed_at = ? WHERE id = ?`,
			string(update.Status), now, now, id)
	}
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.ReviewTask, error) {
	task := &models.ReviewTask{}
	var status string
	var errMsg, resultJSON sql.NullString
	var startedAt, completedAt sql.NullTime
	var ownerPID sql.NullInt64

	if err := row.Scan(&task.ID, &task.RepoURL, &task.PRNumber, &status, &errMsg,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &completedAt, &ownerPID, &resultJSON); err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	if task.Status == models.TaskStatusFailed {
		task.Error = errMsg.String
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	task.OwnerPID = int(ownerPID.Int64)
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if task.Status == models.TaskStatusCompleted && resultJSON.Valid {
		var result models.ReviewResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", task.ID, err)
		}
		task.Result = &result
	}
	return task, nil
}
