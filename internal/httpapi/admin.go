package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"overdub/internal/logging"
	"overdub/internal/queue"
)

type statusResponse struct {
	Running     bool           `json:"running"`
	QueueDBPath string         `json:"queueDbPath"`
	Jobs        map[string]int `json:"jobs"`
}

type retryRequest struct {
	IDs []string `json:"ids"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) registerAdminRoutes(r chi.Router) {
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/jobs", s.handleListJobs)
	r.Post("/v1/jobs/retry", s.handleRetryJobs)
	r.Post("/v1/jobs/reset-stuck", s.handleResetStuck)
	r.Delete("/v1/jobs/{id}", s.handleRemoveJob)
	r.Delete("/v1/jobs", s.handleClearJobs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage", "could not read queue stats")
		return
	}
	jobs := make(map[string]int, len(stats))
	for status, count := range stats {
		jobs[string(status)] = count
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Running:     s.manager.Running(),
		QueueDBPath: s.store.Path(),
		Jobs:        jobs,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation", "unknown status "+raw)
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list jobs failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not list jobs")
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOfJob(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleRetryJobs(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	count, err := s.store.RetryFailed(r.Context(), req.IDs...)
	if err != nil {
		s.logger.Error("retry jobs failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not retry jobs")
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
}

func (s *Server) handleResetStuck(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.ResetStuckProcessing(r.Context())
	if err != nil {
		s.logger.Error("reset stuck jobs failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not reset stuck jobs")
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.store.Remove(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage", "could not remove job")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not_found", "no job with id "+id)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: 1})
}

func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	var (
		count int64
		err   error
	)
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "completed":
		count, err = s.store.ClearCompleted(r.Context())
	case "terminal":
		count, err = s.store.ClearTerminal(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "validation", "scope must be completed or terminal")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage", "could not clear jobs")
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: count})
}
