package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldJobKind is the standardized structured logging key for job kinds.
	FieldJobKind = "job_kind"
	// FieldStage is the standardized structured logging key for processing stage names.
	FieldStage = "stage"
	// FieldWorker is the standardized structured logging key for worker loop indices.
	FieldWorker = "worker"
	// FieldEventType tags log records with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldExternalJobID is the standardized key for the external processor's job identifier.
	FieldExternalJobID = "external_job_id"
	// FieldErrorHint carries the suggested operator next step for a failure.
	FieldErrorHint = "error_hint"
)
