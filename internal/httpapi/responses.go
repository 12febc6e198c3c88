package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"overdub/internal/queue"
	"overdub/internal/services"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
	JobID string    `json:"jobId,omitempty"`
}

// jobView is the wire representation of a job.
type jobView struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	ExternalJobID string     `json:"externalJobId,omitempty"`
	ResultURL     string     `json:"resultUrl,omitempty"`
	ProcessingMS  int64      `json:"processingMs,omitempty"`
	Error         *errorBody `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func viewOfJob(job *queue.Job) jobView {
	view := jobView{
		ID:            job.ID,
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		ExternalJobID: job.ExternalJobID,
		ProcessingMS:  job.ProcessingMS,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if job.Status == queue.StatusCompleted {
		view.ResultURL = job.ResultURL
	}
	if job.Status == queue.StatusFailed || job.Status == queue.StatusTimedOut {
		view.Error = &errorBody{Kind: job.ErrorKind, Message: job.ErrorMessage}
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: message}})
}

// statusForError maps the error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, services.ErrStorage):
		return http.StatusInternalServerError
	case errors.Is(err, services.ErrPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
