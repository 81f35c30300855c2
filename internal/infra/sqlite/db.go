// Package sqlite provides SQLite-based persistent storage for job
// audit records and readiness snapshot history.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/pressmesh/pressmesh/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Job audit log — failed/completed jobs stay queryable forever.
		`CREATE TABLE IF NOT EXISTS jobs (
			id               TEXT PRIMARY KEY,
			task_id          TEXT NOT NULL,
			category         TEXT NOT NULL DEFAULT '',
			stage            TEXT NOT NULL,
			status           TEXT NOT NULL,
			priority         INTEGER NOT NULL DEFAULT 2,
			retry_count      INTEGER NOT NULL DEFAULT 0,
			max_retries      INTEGER NOT NULL DEFAULT 3,
			error            TEXT,
			created_at       INTEGER NOT NULL,
			started_at       INTEGER,
			stage_started_at INTEGER,
			completed_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,

		// Readiness snapshot history for trend analysis.
		`CREATE TABLE IF NOT EXISTS readiness_snapshots (
			id        TEXT PRIMARY KEY,
			taken_at  INTEGER NOT NULL,
			state     TEXT NOT NULL,
			score     REAL NOT NULL,
			checks    TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON readiness_snapshots(taken_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Job Audit Repository ───────────────────────────────────────────────────

// UpsertJob inserts or updates a job record.
func (d *DB) UpsertJob(j domain.Job) error {
	_, err := d.db.Exec(
		`INSERT INTO jobs (id, task_id, category, stage, status, priority, retry_count, max_retries, error, created_at, started_at, stage_started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			stage=excluded.stage,
			status=excluded.status,
			retry_count=excluded.retry_count,
			error=excluded.error,
			started_at=excluded.started_at,
			stage_started_at=excluded.stage_started_at,
			completed_at=excluded.completed_at`,
		j.ID, j.TaskID, j.Category, string(j.Stage), string(j.Status),
		j.Priority, j.RetryCount, j.MaxRetries, nullableString(j.Error),
		j.CreatedAt.Unix(), nullableUnix(j.StartedAt),
		nullableUnix(j.StageStartedAt), nullableUnix(j.CompletedAt),
	)
	return err
}

// GetJob retrieves a single job by id. Returns nil, nil when not found.
func (d *DB) GetJob(id string) (*domain.Job, error) {
	row := d.db.QueryRow(
		`SELECT id, task_id, category, stage, status, priority, retry_count, max_retries, error, created_at, started_at, stage_started_at, completed_at
		 FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row)
}

// RecentJobs returns the most recent jobs ordered by creation time.
func (d *DB) RecentJobs(limit int) ([]domain.Job, error) {
	rows, err := d.db.Query(
		`SELECT id, task_id, category, stage, status, priority, retry_count, max_retries, error, created_at, started_at, stage_started_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ─── Readiness Snapshot Repository ──────────────────────────────────────────

// SnapshotRecord is the persisted form of a readiness snapshot.
// Checks is stored as a JSON array.
type SnapshotRecord struct {
	ID      string
	TakenAt time.Time
	State   string
	Score   float64
	Checks  string
}

// InsertSnapshot appends one snapshot to the history table.
func (d *DB) InsertSnapshot(rec SnapshotRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO readiness_snapshots (id, taken_at, state, score, checks)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.TakenAt.Unix(), rec.State, rec.Score, rec.Checks,
	)
	return err
}

// RecentSnapshots returns the most recent snapshots, newest first.
func (d *DB) RecentSnapshots(limit int) ([]SnapshotRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, taken_at, state, score, checks
		 FROM readiness_snapshots ORDER BY taken_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var takenAt int64
		if err := rows.Scan(&rec.ID, &takenAt, &rec.State, &rec.Score, &rec.Checks); err != nil {
			return nil, err
		}
		rec.TakenAt = time.Unix(takenAt, 0)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	var j domain.Job
	var stage, status string
	var errMsg sql.NullString
	var createdAt int64
	var startedAt, stageStartedAt, completedAt sql.NullInt64

	err := s.Scan(&j.ID, &j.TaskID, &j.Category, &stage, &status,
		&j.Priority, &j.RetryCount, &j.MaxRetries, &errMsg,
		&createdAt, &startedAt, &stageStartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	j.Stage = domain.Stage(stage)
	j.Status = domain.JobStatus(status)
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	j.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		j.StartedAt = time.Unix(startedAt.Int64, 0)
	}
	if stageStartedAt.Valid {
		j.StageStartedAt = time.Unix(stageStartedAt.Int64, 0)
	}
	if completedAt.Valid {
		j.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	return &j, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
