package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/services"
)

// syncDubResponse carries the dubbed media inline for synchronous callers.
type syncDubResponse struct {
	JobID         string `json:"jobId"`
	ExternalJobID string `json:"externalJobId,omitempty"`
	Audio         string `json:"audio"`
	ContentType   string `json:"contentType"`
	ProcessingMS  int64  `json:"processingMs"`
	ResultURL     string `json:"resultUrl"`
}

// handleSyncDub runs a dub inline while the client waits. The job row is
// created already claimed so the worker pool never competes for it; the
// tighter synchronous wait budget bounds how long the connection stays open.
func (s *Server) handleSyncDub(w http.ResponseWriter, r *http.Request) {
	params, ok := s.readDubUpload(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	job, err := s.store.NewClaimedJob(ctx, queue.KindDub, params)
	if err != nil {
		s.logger.Error("create sync job failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not create job")
		return
	}
	logger := s.logger.With(logging.String(logging.FieldJobID, job.ID))

	// Heartbeat for the duration of the inline wait so the reclaimer never
	// mistakes this job for a crashed worker's.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go s.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	runErr := s.runSyncDub(ctx, job)

	stopHeartbeat()
	hbWG.Wait()

	if runErr != nil {
		s.settleSyncFailure(ctx, logger, w, job, runErr)
		return
	}

	if err := s.store.Update(ctx, job); err != nil && !errors.Is(err, queue.ErrJobFinalized) {
		logger.Error("persist sync job failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not persist job outcome")
		return
	}

	data, err := os.ReadFile(job.ResultPath)
	if err != nil {
		logger.Error("read sync artifact failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not read finished artifact")
		return
	}

	writeJSON(w, http.StatusOK, syncDubResponse{
		JobID:         job.ID,
		ExternalJobID: job.ExternalJobID,
		Audio:         base64.StdEncoding.EncodeToString(data),
		ContentType:   contentTypeForPath(job.ResultPath),
		ProcessingMS:  job.ProcessingMS,
		ResultURL:     job.ResultURL,
	})
}

func (s *Server) runSyncDub(ctx context.Context, job *queue.Job) error {
	if err := s.syncDub.Prepare(ctx, job); err != nil {
		return err
	}
	return s.syncDub.Execute(ctx, job)
}

// settleSyncFailure records the terminal state and maps it to a response. A
// blown wait budget answers 408 with the job id so the caller can keep
// polling the status endpoint; the remote job may still finish.
func (s *Server) settleSyncFailure(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, job *queue.Job, jobErr error) {
	if errors.Is(jobErr, services.ErrTimeout) {
		job.SetTimedOut(jobErr.Error())
	} else {
		job.SetFailed(services.Kind(jobErr), jobErr.Error())
	}
	if err := s.store.Update(ctx, job); err != nil {
		if errors.Is(err, queue.ErrJobFinalized) {
			logger.Warn("job settled elsewhere, keeping recorded outcome", logging.Error(err))
		} else {
			logger.Error("persist sync failure failed", logging.Error(err))
		}
	}
	s.syncDub.CleanupAfterFailure(ctx, job)

	logger.Warn("sync dub did not complete",
		logging.Error(jobErr),
		logging.String("error_kind", job.ErrorKind),
	)
	writeJSON(w, statusForError(jobErr), errorEnvelope{
		JobID: job.ID,
		Error: errorBody{Kind: job.ErrorKind, Message: job.ErrorMessage},
	})
}

func contentTypeForPath(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
