package transform

import (
	"log/slog"
	"time"

	"overdub/internal/config"
	"overdub/internal/queue"
)

// Handlers builds the full handler set used by the worker pool, keyed by job
// kind and configured with the asynchronous wait budget.
func Handlers(
	cfg *config.Config,
	processor Processor,
	publisher Publisher,
	recorder ExternalIDRecorder,
	logger *slog.Logger,
) map[queue.Kind]Handler {
	budget := time.Duration(cfg.Workflow.WaitBudget) * time.Second
	interval := time.Duration(cfg.Workflow.StatusPollInterval) * time.Second

	return map[queue.Kind]Handler{
		queue.KindDub: NewDubHandler(
			processor, publisher, recorder,
			cfg.Paths.UploadsDir, budget, interval, logger,
		),
		queue.KindExportAudio: NewExportHandler(
			queue.KindExportAudio, processor, publisher, recorder,
			budget, interval, logger,
		),
		queue.KindExportVideo: NewExportHandler(
			queue.KindExportVideo, processor, publisher, recorder,
			budget, interval, logger,
		),
	}
}

// SyncDubHandler builds a dub handler with the tighter synchronous bridge
// budget for requests that hold the HTTP connection open.
func SyncDubHandler(
	cfg *config.Config,
	processor Processor,
	publisher Publisher,
	recorder ExternalIDRecorder,
	logger *slog.Logger,
) *DubHandler {
	return NewDubHandler(
		processor, publisher, recorder,
		cfg.Paths.UploadsDir,
		time.Duration(cfg.Workflow.SyncWaitBudget)*time.Second,
		time.Duration(cfg.Workflow.SyncPollInterval)*time.Second,
		logger,
	)
}
