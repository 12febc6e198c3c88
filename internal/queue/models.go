package queue

import (
	"strings"
	"time"
)

// Kind identifies the transformation a job performs. Immutable after creation.
type Kind string

const (
	KindDub         Kind = "dub"
	KindExportAudio Kind = "export-audio"
	KindExportVideo Kind = "export-video"
)

var allKinds = []Kind{KindDub, KindExportAudio, KindExportVideo}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// Status represents the lifecycle of a job. Transitions only move forward in
// the ordering pending < processing < {completed|failed|timed_out}, except
// processing back to pending on crash reclaim or transient-retry requeue.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusTimedOut,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further worker activity.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Job is a transformation request persisted in SQLite.
type Job struct {
	ID            string
	Kind          Kind
	Status        Status
	ParamsJSON    string
	Attempts      int
	ExternalJobID string
	ResultPath    string
	ResultURL     string
	ErrorKind     string
	ErrorMessage  string
	ProcessingMS  int64
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SetCompleted records the published artifact. Result fields are set together
// with the completed status so the result/status coupling invariant holds.
func (j *Job) SetCompleted(resultPath, resultURL string, processing time.Duration) {
	j.Status = StatusCompleted
	j.ResultPath = resultPath
	j.ResultURL = resultURL
	j.ProcessingMS = processing.Milliseconds()
	j.ErrorKind = ""
	j.ErrorMessage = ""
	j.LastHeartbeat = nil
}

// SetFailed marks the job terminally failed with a kind-tagged error.
func (j *Job) SetFailed(kind, message string) {
	j.Status = StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.LastHeartbeat = nil
}

// SetTimedOut marks the job terminally timed out. The external job may keep
// running remotely but is no longer tracked.
func (j *Job) SetTimedOut(message string) {
	j.Status = StatusTimedOut
	j.ErrorKind = "timeout"
	j.ErrorMessage = message
	j.LastHeartbeat = nil
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	TimedOut   int
}
