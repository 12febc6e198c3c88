package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/services"
	"overdub/internal/transform"
)

// terminalCleaner is implemented by handlers that hold resources worth
// releasing once a job settles terminally, such as uploaded source media.
type terminalCleaner interface {
	CleanupAfterFailure(ctx context.Context, job *queue.Job)
}

// processJob drives a claimed job through its handler and persists the
// outcome. The error return only signals shutdown; job failures are recorded
// on the job row, not surfaced to the worker loop.
func (m *Manager) processJob(ctx context.Context, base *slog.Logger, job *queue.Job) error {
	logger := m.jobLogger(base, job)

	handler, ok := m.handlers[job.Kind]
	if !ok {
		m.failJob(ctx, logger, nil, job,
			services.Wrap(services.ErrValidation, "workflow", "dispatch",
				"no handler registered for job kind "+string(job.Kind), nil))
		return nil
	}

	if err := handler.Prepare(ctx, job); err != nil {
		return m.handleJobError(ctx, logger, handler, job, err)
	}

	// Heartbeats run for the lifetime of Execute so a crash is distinguishable
	// from slow processing.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := handler.Execute(ctx, job)

	stopHeartbeat()
	hbWG.Wait()

	if execErr != nil {
		return m.handleJobError(ctx, logger, handler, job, execErr)
	}

	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, queue.ErrJobFinalized) {
			logger.Warn("job settled elsewhere, keeping recorded outcome", logging.Error(err))
			return nil
		}
		logger.Error("failed to persist completed job", logging.Error(err))
		m.setLastError(err)
		return err
	}
	m.setLastJob(job)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.Int("attempts", job.Attempts),
	)
	return nil
}

// handleJobError classifies a handler failure and settles the job: timeouts
// become timed_out, retryable errors requeue until the retry ceiling, and
// everything else fails terminally with a kind-tagged error.
func (m *Manager) handleJobError(ctx context.Context, logger *slog.Logger, handler transform.Handler, job *queue.Job, jobErr error) error {
	if errors.Is(jobErr, context.Canceled) {
		// Shutdown mid-job: leave the row in processing. The stale heartbeat
		// reclaim returns it to pending after restart.
		return jobErr
	}

	message := failureMessage(jobErr)

	if errors.Is(jobErr, services.ErrTimeout) {
		job.SetTimedOut(message)
		m.persistOutcome(ctx, logger, job)
		m.cleanupAfterFailure(ctx, handler, job)
		logger.Warn("job timed out",
			logging.Error(jobErr),
			logging.String(logging.FieldEventType, "job_timed_out"),
			logging.String(logging.FieldExternalJobID, job.ExternalJobID),
		)
		return nil
	}

	if services.Retryable(jobErr) && job.Attempts < m.maxRetries {
		if err := m.store.Requeue(ctx, job, message); err != nil {
			logger.Error("failed to requeue job", logging.Error(err))
			m.setLastError(err)
			return err
		}
		logger.Warn("job requeued after transient failure",
			logging.Error(jobErr),
			logging.String(logging.FieldEventType, "job_requeued"),
			logging.Int("attempts", job.Attempts),
		)
		return nil
	}

	m.failJob(ctx, logger, handler, job, jobErr)
	return nil
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, handler transform.Handler, job *queue.Job, jobErr error) {
	job.SetFailed(services.Kind(jobErr), failureMessage(jobErr))
	m.persistOutcome(ctx, logger, job)
	m.cleanupAfterFailure(ctx, handler, job)
	logger.Error("job failed",
		logging.Error(jobErr),
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String("error_kind", job.ErrorKind),
		logging.Int("attempts", job.Attempts),
	)
}

func (m *Manager) cleanupAfterFailure(ctx context.Context, handler transform.Handler, job *queue.Job) {
	if cleaner, ok := handler.(terminalCleaner); ok {
		cleaner.CleanupAfterFailure(ctx, job)
	}
}

func (m *Manager) persistOutcome(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not persist job outcome")
		} else if errors.Is(err, queue.ErrJobFinalized) {
			logger.Warn("job settled elsewhere, keeping recorded outcome", logging.Error(err))
		} else {
			logger.Error("failed to persist job outcome", logging.Error(err))
			m.setLastError(err)
		}
		return
	}
	m.setLastJob(job)
}

func failureMessage(err error) string {
	if err == nil {
		return "failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "failed without error detail"
	}
	return message
}
