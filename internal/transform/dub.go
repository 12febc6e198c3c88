package transform

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/services"
)

// ExternalIDRecorder persists the speech service's job identifier as soon as
// submission succeeds, before any waiting begins. A crash after submission
// then resumes the remote job instead of re-submitting it.
type ExternalIDRecorder interface {
	SetExternalJobID(ctx context.Context, id, externalID string) error
}

// DubHandler runs dub jobs: it uploads the source media to the speech
// service, waits for the remote job within the budget, and publishes the
// dubbed output.
type DubHandler struct {
	processor  Processor
	publisher  Publisher
	recorder   ExternalIDRecorder
	uploadsDir string
	budget     time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewDubHandler builds a dub handler with the given wait budget and status
// poll interval.
func NewDubHandler(
	processor Processor,
	publisher Publisher,
	recorder ExternalIDRecorder,
	uploadsDir string,
	budget, interval time.Duration,
	logger *slog.Logger,
) *DubHandler {
	return &DubHandler{
		processor:  processor,
		publisher:  publisher,
		recorder:   recorder,
		uploadsDir: uploadsDir,
		budget:     budget,
		interval:   interval,
		logger:     logging.NewComponentLogger(logger, "dub"),
	}
}

// Prepare validates the job parameters and confirms the source media exists.
// A job resuming via a recorded external id no longer needs the source file;
// the remote job already holds the media.
func (h *DubHandler) Prepare(ctx context.Context, job *queue.Job) error {
	params, err := job.DubParams()
	if err != nil {
		return services.Wrap(services.ErrValidation, "dub", "prepare", "job parameters are not valid dub parameters", err)
	}
	if params.TargetLanguage == "" {
		return services.Wrap(services.ErrValidation, "dub", "prepare", "target language is required", nil)
	}
	if job.ExternalJobID == "" {
		if _, err := os.Stat(params.InputPath); err != nil {
			return services.Wrap(services.ErrValidation, "dub", "prepare", "source media is missing", err)
		}
	}
	return nil
}

// Execute drives the dub to completion. A job that already carries an
// external id skips submission and resumes waiting on the remote job.
func (h *DubHandler) Execute(ctx context.Context, job *queue.Job) error {
	params, err := job.DubParams()
	if err != nil {
		return services.Wrap(services.ErrValidation, "dub", "execute", "job parameters are not valid dub parameters", err)
	}

	start := time.Now()

	externalID := job.ExternalJobID
	if externalID == "" {
		externalID, err = h.processor.SubmitDub(ctx, params)
		if err != nil {
			return err
		}
		if err := h.recorder.SetExternalJobID(ctx, job.ID, externalID); err != nil {
			return services.Wrap(services.ErrStorage, "dub", "execute", "record external job id", err)
		}
		job.ExternalJobID = externalID
		h.logger.InfoContext(ctx, "dub submitted", logging.Args(
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternalJobID, externalID),
			logging.String("target_language", params.TargetLanguage),
		)...)
	} else {
		h.logger.InfoContext(ctx, "resuming dub", logging.Args(
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternalJobID, externalID),
		)...)
	}

	result, err := h.processor.WaitForResult(ctx, externalID, h.budget, h.interval)
	if err != nil {
		return err
	}

	path, url, err := h.publisher.Publish(job.ID, dubArtifactName(params, result.Filename), result.ContentType, result.Data)
	if err != nil {
		return err
	}

	job.SetCompleted(path, url, time.Since(start))
	h.cleanupUpload(ctx, params.InputPath)

	h.logger.InfoContext(ctx, "dub completed", logging.Args(
		logging.String(logging.FieldJobID, job.ID),
		logging.String("result_url", url),
		logging.Duration("elapsed", time.Since(start)),
	)...)
	return nil
}

// HealthCheck reports handler readiness.
func (h *DubHandler) HealthCheck(ctx context.Context) Health {
	if h.processor == nil {
		return Unhealthy("dub", "speech service client not configured")
	}
	if _, err := os.Stat(h.uploadsDir); err != nil {
		return Unhealthy("dub", "uploads directory unavailable")
	}
	return Healthy("dub")
}

// CleanupAfterFailure removes the uploaded source once the job has settled
// terminally, so failed and timed-out dubs do not leave their uploads behind.
// Retryable failures never reach here; the upload stays for the next attempt.
func (h *DubHandler) CleanupAfterFailure(ctx context.Context, job *queue.Job) {
	params, err := job.DubParams()
	if err != nil {
		return
	}
	h.cleanupUpload(ctx, params.InputPath)
}

// cleanupUpload removes the uploaded source after a successful dub. Only files
// inside the uploads directory are touched.
func (h *DubHandler) cleanupUpload(ctx context.Context, inputPath string) {
	if h.uploadsDir == "" || !strings.HasPrefix(inputPath, h.uploadsDir+string(filepath.Separator)) {
		return
	}
	if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
		h.logger.WarnContext(ctx, "could not remove uploaded source", logging.Args(
			logging.String("path", inputPath),
			logging.Error(err),
		)...)
	}
}

func dubArtifactName(params queue.DubParams, serviceName string) string {
	if serviceName != "" {
		return serviceName
	}
	if params.OriginalFilename != "" {
		base := strings.TrimSuffix(params.OriginalFilename, filepath.Ext(params.OriginalFilename))
		return base + "-" + params.TargetLanguage
	}
	return ""
}
