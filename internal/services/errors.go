package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classify job processing failures. Submission validation
// failures never reach the worker pool; the rest drive the worker's retry
// versus terminal decision and the error kind persisted on the job row.
var (
	ErrValidation = errors.New("validation error")
	ErrTransient  = errors.New("transient failure")
	ErrPermanent  = errors.New("permanent failure")
	ErrTimeout    = errors.New("timeout")
	ErrStorage    = errors.New("storage error")
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the taxonomy name for an error, used as the kind tag persisted
// alongside the job's error message.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermanent):
		return "external_permanent"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrTransient):
		return "external_transient"
	default:
		return "external_transient"
	}
}

// Retryable reports whether a worker should requeue the job after this error,
// attempts ceiling permitting. Timeouts and permanent external failures are
// terminal; everything else is treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrValidation) {
		return false
	}
	return true
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
