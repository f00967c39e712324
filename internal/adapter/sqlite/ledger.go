// Package sqlite keeps a durable ledger of finished jobs across runs.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/cwygoda/livearchive/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	hookOnce sync.Once
	// goose keeps its base FS and dialect in package globals.
	migrateMu sync.Mutex
)

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

// Ledger implements domain.StatusSink on SQLite.
type Ledger struct {
	db *sql.DB
}

// New opens the ledger at dbPath, creating it and applying migrations if needed.
func New(dbPath string) (*Ledger, error) {
	registerHook()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; concurrent jobs queue on the pool instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts a terminal status. Each job id can be recorded once.
func (l *Ledger) Record(ctx context.Context, s domain.JobStatus) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO job_status
		 (run_id, job_id, source, succeeded, remote_path, remote_locator, local_path,
		  strategy, upload_attempts, error, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.JobID, string(s.Source), s.Succeeded, s.RemotePath, s.RemoteLocator, s.LocalPath,
		s.Strategy, s.UploadAttempts, s.Error, s.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", s.JobID, err)
	}
	return nil
}

const selectColumns = `SELECT run_id, job_id, source, succeeded, remote_path, remote_locator,
	local_path, strategy, upload_attempts, error, finished_at FROM job_status`

// Get returns the status recorded for jobID.
func (l *Ledger) Get(ctx context.Context, jobID string) (domain.JobStatus, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE job_id = ?`, jobID)
	return scanStatus(row)
}

// ListRun returns the statuses of one run in completion order.
func (l *Ledger) ListRun(ctx context.Context, runID string) ([]domain.JobStatus, error) {
	return l.query(ctx, selectColumns+` WHERE run_id = ? ORDER BY finished_at ASC, id ASC`, runID)
}

// ListRecent returns up to limit statuses, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]domain.JobStatus, error) {
	return l.query(ctx, selectColumns+` ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
}

// ListRetained returns failed jobs that left an artifact on disk, newest first.
func (l *Ledger) ListRetained(ctx context.Context) ([]domain.JobStatus, error) {
	return l.query(ctx, selectColumns+` WHERE succeeded = 0 AND local_path != '' ORDER BY finished_at DESC, id DESC`)
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]domain.JobStatus, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (domain.JobStatus, error) {
	var s domain.JobStatus
	var source string
	var finished time.Time
	err := row.Scan(&s.RunID, &s.JobID, &source, &s.Succeeded, &s.RemotePath, &s.RemoteLocator,
		&s.LocalPath, &s.Strategy, &s.UploadAttempts, &s.Error, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return s, domain.ErrJobNotFound
	}
	if err != nil {
		return s, err
	}
	s.Source = domain.SourceID(source)
	s.Timestamp = finished.UTC()
	return s, nil
}
