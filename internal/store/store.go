package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/throw-if-null/pagesmith/internal/api"
	_ "modernc.org/sqlite"
)

// Store is the run ledger. It records what each request did for later
// inspection and is never consulted to decide what a request does.
type Store struct {
	db *sql.DB
}

var ErrNotFound = errors.New("not found")

const crashMsg = "crash recovery: pagesmith restart"

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the sqlite driver and runs migrations. A single
// connection is kept so shared in-memory databases survive between queries.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, err
	}
	s := New(db)
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init runs migrations using PRAGMA user_version.
func (s *Store) Init() error {
	var ver int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&ver); err != nil {
		return err
	}
	if ver >= 1 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// v1 schema
	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  task TEXT NOT NULL,
  round INTEGER NOT NULL,
  nonce TEXT NOT NULL,
  email TEXT NOT NULL,
  status TEXT NOT NULL,
  step TEXT NOT NULL,
  repo_url TEXT NOT NULL DEFAULT '',
  pages_url TEXT NOT NULL DEFAULT '',
  commit_sha TEXT NOT NULL DEFAULT '',
  warning TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  started_at TEXT NOT NULL,
  finished_at TEXT
);
CREATE INDEX IF NOT EXISTS runs_task_started ON runs(task, started_at);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1`); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateRun inserts r. StartedAt defaults to now.
func (s *Store) CreateRun(r *api.Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id required")
	}
	if r.StartedAt == "" {
		r.StartedAt = now()
	}
	if r.Status == "" {
		r.Status = api.RunRunning
	}
	return withBusyRetry("create run", func() error {
		_, err := s.db.Exec(
			`INSERT INTO runs (id, task, round, nonce, email, status, step, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Task, r.Round, r.Nonce, r.Email, string(r.Status), r.Step, r.StartedAt,
		)
		return err
	})
}

// UpdateRunStep records the step a running request has reached.
func (s *Store) UpdateRunStep(id, step string) error {
	return withBusyRetry("update run step", func() error {
		res, err := s.db.Exec(`UPDATE runs SET step = ? WHERE id = ? AND status = ?`, step, id, string(api.RunRunning))
		if err != nil {
			return err
		}
		return expectRow(res)
	})
}

// FinishRun stores the terminal state of r.
func (s *Store) FinishRun(r *api.Run) error {
	if r.FinishedAt == "" {
		r.FinishedAt = now()
	}
	return withBusyRetry("finish run", func() error {
		res, err := s.db.Exec(
			`UPDATE runs SET status = ?, step = ?, repo_url = ?, pages_url = ?, commit_sha = ?, warning = ?, error = ?, finished_at = ? WHERE id = ?`,
			string(r.Status), r.Step, r.RepoURL, r.PagesURL, r.CommitSHA, r.Warning, r.Error, r.FinishedAt, r.ID,
		)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
}

const runColumns = `id, task, round, nonce, email, status, step, repo_url, pages_url, commit_sha, warning, error, started_at, COALESCE(finished_at, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*api.Run, error) {
	var r api.Run
	var status string
	if err := row.Scan(&r.ID, &r.Task, &r.Round, &r.Nonce, &r.Email, &status, &r.Step, &r.RepoURL, &r.PagesURL, &r.CommitSHA, &r.Warning, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = api.RunStatus(status)
	return &r, nil
}

func (s *Store) GetRun(id string) (*api.Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// ListRuns returns runs newest first, optionally filtered by task. If
// limit <= 0, return all.
func (s *Store) ListRuns(task string, limit int) ([]*api.Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if task != "" {
		q += ` WHERE task = ?`
		args = append(args, task)
	}
	q += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReconcileInFlightRuns marks runs left running by a previous process as
// failed. It is idempotent and returns how many runs it changed.
func (s *Store) ReconcileInFlightRuns() (int, error) {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE status = ?`,
		string(api.RunFailed), crashMsg, now(), string(api.RunRunning),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// withBusyRetry retries fn on SQLITE_BUSY with a short exponential sleep.
func withBusyRetry(op string, fn func() error) error {
	const maxRetries = 5
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isSqliteBusy(err) {
			return err
		}
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i)
		time.Sleep(time.Duration(10*(1<<i)) * time.Millisecond)
	}
	return lastErr
}

// isSqliteBusy reports whether err represents a busy/locked sqlite condition.
func isSqliteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy") || strings.Contains(msg, "SQLITE_BUSY")
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
