package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimNext atomically claims the oldest pending job: it transitions the row
// to processing, increments attempts, and stamps a heartbeat, all guarded by
// the pending status so two claimers can never win the same row. Returns nil
// when no pending job exists.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
			string(StatusPending),
		)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select next pending job: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempts = attempts + 1, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(StatusProcessing),
			now,
			now,
			id,
			string(StatusPending),
		)
		if err != nil {
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race to another claimer; try the next candidate.
			continue
		}
		return s.GetByID(ctx, id)
	}
}

// Requeue returns a processing job to pending for another attempt. The
// external job id and attempt count are preserved so the next worker resumes
// rather than re-submits.
func (s *Store) Requeue(ctx context.Context, job *Job, reason string) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_kind = NULL, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(StatusPending),
		nullableString(reason),
		now.Format(time.RFC3339Nano),
		job.ID,
		string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	job.Status = StatusPending
	job.ErrorKind = ""
	job.ErrorMessage = reason
	job.LastHeartbeat = nil
	job.UpdatedAt = now
	return nil
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns processing jobs whose heartbeats expired back
// to pending so a live worker can resume them via the stored external job id.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = 'Reclaimed from stale processing',
             last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		string(StatusPending),
		now.Format(time.RFC3339Nano),
		string(StatusProcessing),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}
