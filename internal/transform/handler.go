// Package transform contains the per-kind job handlers executed by the
// worker pool. Each handler drives one transformation end to end: submit to
// the speech service, wait within the budget, publish the artifact.
package transform

import (
	"context"
	"time"

	"overdub/internal/queue"
	"overdub/internal/services/speechlab"
)

// Handler describes the contract the workflow manager needs from each
// transformation kind.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}

// Processor is the slice of the speechlab client the handlers consume.
// Narrowed to an interface so workflow tests can substitute a fake service.
type Processor interface {
	SubmitDub(ctx context.Context, params queue.DubParams) (string, error)
	SubmitExport(ctx context.Context, kind queue.Kind, params queue.ExportParams) (string, error)
	WaitForResult(ctx context.Context, externalID string, budget, interval time.Duration) (*speechlab.Result, error)
}

// Publisher stores a finished artifact and returns its path and public URL.
type Publisher interface {
	Publish(jobID, filename, contentType string, data []byte) (string, string, error)
}
