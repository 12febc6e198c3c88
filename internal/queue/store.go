package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"overdub/internal/config"
)

// ErrJobFinalized is returned when an update targets a job that has already
// reached a terminal status. Terminal rows are never rewritten.
var ErrJobFinalized = errors.New("job is already in a terminal status")

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the job database location.
func (s *Store) Path() string {
	return s.path
}

// NewJob inserts a pending job, which makes it claimable by the worker pool.
func (s *Store) NewJob(ctx context.Context, kind Kind, params any) (*Job, error) {
	return s.insertJob(ctx, kind, params, StatusPending, 0)
}

// NewClaimedJob inserts a job already in processing state with one attempt
// recorded. Used by the synchronous bridge, which drives the job inline and
// must keep the worker pool from claiming it.
func (s *Store) NewClaimedJob(ctx context.Context, kind Kind, params any) (*Job, error) {
	return s.insertJob(ctx, kind, params, StatusProcessing, 1)
}

func (s *Store) insertJob(ctx context.Context, kind Kind, params any, status Status, attempts int) (*Job, error) {
	paramsJSON, err := EncodeParams(params)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var heartbeat any
	if status == StatusProcessing {
		heartbeat = timestamp
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, kind, status, params_json, attempts, last_heartbeat, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(kind),
		string(status),
		paramsJSON,
		attempts,
		heartbeat,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil without error when the
// identifier is unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job. The write is compare-and-set on
// the row's status: once a row is completed, failed, or timed out it stays
// that way, and a stale in-memory copy gets ErrJobFinalized instead of
// silently clobbering the outcome another actor recorded.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, params_json = ?, attempts = ?, external_job_id = ?,
             result_path = ?, result_url = ?, error_kind = ?, error_message = ?,
             processing_ms = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status NOT IN ('completed', 'failed', 'timed_out')`,
		string(job.Status),
		job.ParamsJSON,
		job.Attempts,
		nullableString(job.ExternalJobID),
		nullableString(job.ResultPath),
		nullableString(job.ResultURL),
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		job.ProcessingMS,
		nullableTime(job.LastHeartbeat),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.GetByID(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return fmt.Errorf("update job: %s not found", job.ID)
		}
		return fmt.Errorf("update job %s (status %s): %w", job.ID, current.Status, ErrJobFinalized)
	}
	return nil
}

// SetExternalJobID records the external processor's identifier. The column is
// write-once: a second call with a different value fails rather than clobber.
func (s *Store) SetExternalJobID(ctx context.Context, id, externalID string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET external_job_id = ?, updated_at = ?
         WHERE id = ? AND (external_job_id IS NULL OR external_job_id = ?)`,
		externalID,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		externalID,
	)
	if err != nil {
		return fmt.Errorf("set external job id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s already has a different external job id", id)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = string(status)
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const jobColumns = "id, kind, status, params_json, attempts, external_job_id, result_path, result_url, error_kind, error_message, processing_ms, last_heartbeat, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		kindStr      string
		statusStr    string
		paramsJSON   string
		attempts     int
		externalID   sql.NullString
		resultPath   sql.NullString
		resultURL    sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		processingMS sql.NullInt64
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&kindStr,
		&statusStr,
		&paramsJSON,
		&attempts,
		&externalID,
		&resultPath,
		&resultURL,
		&errorKind,
		&errorMessage,
		&processingMS,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		Kind:          Kind(kindStr),
		Status:        Status(statusStr),
		ParamsJSON:    paramsJSON,
		Attempts:      attempts,
		ExternalJobID: externalID.String,
		ResultPath:    resultPath.String,
		ResultURL:     resultURL.String,
		ErrorKind:     errorKind.String,
		ErrorMessage:  errorMessage.String,
		ProcessingMS:  processingMS.Int64,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
