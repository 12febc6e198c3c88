package transform

import (
	"context"
	"log/slog"
	"time"

	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/services"
)

// ExportHandler runs export jobs: it asks the speech service to render
// already-hosted material into an audio or video artifact and publishes the
// finished render.
type ExportHandler struct {
	kind      queue.Kind
	processor Processor
	publisher Publisher
	recorder  ExternalIDRecorder
	budget    time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewExportHandler builds an export handler for one export kind.
func NewExportHandler(
	kind queue.Kind,
	processor Processor,
	publisher Publisher,
	recorder ExternalIDRecorder,
	budget, interval time.Duration,
	logger *slog.Logger,
) *ExportHandler {
	return &ExportHandler{
		kind:      kind,
		processor: processor,
		publisher: publisher,
		recorder:  recorder,
		budget:    budget,
		interval:  interval,
		logger:    logging.NewComponentLogger(logger, string(kind)),
	}
}

// Prepare validates the export parameters.
func (h *ExportHandler) Prepare(ctx context.Context, job *queue.Job) error {
	params, err := job.ExportParams()
	if err != nil {
		return services.Wrap(services.ErrValidation, string(h.kind), "prepare", "job parameters are not valid export parameters", err)
	}
	if params.TranscriptID == "" && params.AudioURL == "" {
		return services.Wrap(services.ErrValidation, string(h.kind), "prepare", "a transcript id or audio URL is required", nil)
	}
	if params.Manifest != nil {
		for _, segment := range params.Manifest.Segments {
			if segment.EndMs < segment.StartMs {
				return services.Wrap(services.ErrValidation, string(h.kind), "prepare", "manifest segment ends before it starts", nil)
			}
		}
	}
	return nil
}

// Execute drives the export to completion, resuming via the stored external
// id when present.
func (h *ExportHandler) Execute(ctx context.Context, job *queue.Job) error {
	params, err := job.ExportParams()
	if err != nil {
		return services.Wrap(services.ErrValidation, string(h.kind), "execute", "job parameters are not valid export parameters", err)
	}

	start := time.Now()

	externalID := job.ExternalJobID
	if externalID == "" {
		externalID, err = h.processor.SubmitExport(ctx, h.kind, params)
		if err != nil {
			return err
		}
		if err := h.recorder.SetExternalJobID(ctx, job.ID, externalID); err != nil {
			return services.Wrap(services.ErrStorage, string(h.kind), "execute", "record external job id", err)
		}
		job.ExternalJobID = externalID
		h.logger.InfoContext(ctx, "export submitted", logging.Args(
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldExternalJobID, externalID),
		)...)
	}

	result, err := h.processor.WaitForResult(ctx, externalID, h.budget, h.interval)
	if err != nil {
		return err
	}

	path, url, err := h.publisher.Publish(job.ID, result.Filename, result.ContentType, result.Data)
	if err != nil {
		return err
	}

	job.SetCompleted(path, url, time.Since(start))
	h.logger.InfoContext(ctx, "export completed", logging.Args(
		logging.String(logging.FieldJobID, job.ID),
		logging.String("result_url", url),
		logging.Duration("elapsed", time.Since(start)),
	)...)
	return nil
}

// HealthCheck reports handler readiness.
func (h *ExportHandler) HealthCheck(ctx context.Context) Health {
	if h.processor == nil {
		return Unhealthy(string(h.kind), "speech service client not configured")
	}
	return Healthy(string(h.kind))
}
