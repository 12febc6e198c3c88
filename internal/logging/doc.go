// Package logging constructs the shared slog loggers used by the daemon,
// worker pool, and HTTP API, and provides attribute helpers plus the
// standardized field keys used across the pipeline.
package logging
