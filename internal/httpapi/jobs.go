package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"overdub/internal/logging"
	"overdub/internal/queue"
)

// exportRequest is the JSON payload for export submissions. The kind names
// the container the caller wants back: mp3 for an audio export, mp4 for a
// composed video export.
type exportRequest struct {
	Kind         string          `json:"kind" validate:"required,oneof=mp3 mp4"`
	AudioURL     string          `json:"audioUrl" validate:"omitempty,url"`
	TranscriptID string          `json:"transcriptId" validate:"omitempty,min=1,max=128"`
	TemplateID   string          `json:"templateId" validate:"omitempty,max=128"`
	Manifest     *queue.Manifest `json:"manifest"`
	Style        map[string]any  `json:"style"`
}

type submitResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitDub(w http.ResponseWriter, r *http.Request) {
	params, ok := s.readDubUpload(w, r)
	if !ok {
		return
	}

	job, err := s.store.NewJob(r.Context(), queue.KindDub, params)
	if err != nil {
		s.logger.Error("enqueue dub failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not enqueue job")
		return
	}

	s.logger.Info("dub enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("target_language", params.TargetLanguage),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleSubmitExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", validationMessage(err))
		return
	}
	if req.TranscriptID == "" && req.AudioURL == "" {
		writeError(w, http.StatusBadRequest, "validation", "transcriptId or audioUrl is required")
		return
	}
	if req.Manifest != nil {
		for i, segment := range req.Manifest.Segments {
			if segment.EndMs < segment.StartMs {
				writeError(w, http.StatusBadRequest, "validation",
					fmt.Sprintf("manifest segment %d ends before it starts", i))
				return
			}
		}
	}

	kind := queue.KindExportAudio
	if req.Kind == "mp4" {
		kind = queue.KindExportVideo
	}

	job, err := s.store.NewJob(r.Context(), kind, queue.ExportParams{
		AudioURL:     req.AudioURL,
		TranscriptID: req.TranscriptID,
		TemplateID:   req.TemplateID,
		Manifest:     req.Manifest,
		Style:        req.Style,
	})
	if err != nil {
		s.logger.Error("enqueue export failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not enqueue job")
		return
	}

	s.logger.Info("export enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(kind)),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("job lookup failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not look up job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "not_found", "no job with id "+id)
		return
	}
	writeJSON(w, http.StatusOK, viewOfJob(job))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.manager.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage", "health check failed")
		return
	}

	body := map[string]any{
		"ready": health.Ready,
		"queue": map[string]int{
			"total":      health.Queue.Total,
			"pending":    health.Queue.Pending,
			"processing": health.Queue.Processing,
			"completed":  health.Queue.Completed,
			"failed":     health.Queue.Failed,
			"timedOut":   health.Queue.TimedOut,
		},
	}
	status := http.StatusOK
	if !health.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// readDubUpload parses the multipart dub submission, stores the media in the
// uploads directory, and returns the job parameters. On failure the error
// response has already been written.
func (s *Server) readDubUpload(w http.ResponseWriter, r *http.Request) (queue.DubParams, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "validation",
				fmt.Sprintf("upload exceeds %d MiB limit", s.cfg.Limits.MaxUploadMiB))
		} else {
			writeError(w, http.StatusBadRequest, "validation", "request is not valid multipart form data")
		}
		return queue.DubParams{}, false
	}

	target, err := canonicalLanguage(r.FormValue("target_language"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return queue.DubParams{}, false
	}
	source := ""
	if raw := r.FormValue("source_language"); raw != "" {
		source, err = canonicalLanguage(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return queue.DubParams{}, false
		}
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "media file is required")
		return queue.DubParams{}, false
	}
	defer file.Close()

	storedPath, err := s.storeUpload(file, header)
	if err != nil {
		s.logger.Error("store upload failed", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "storage", "could not store uploaded media")
		return queue.DubParams{}, false
	}

	return queue.DubParams{
		InputPath:               storedPath,
		OriginalFilename:        filepath.Base(header.Filename),
		TargetLanguage:          target,
		SourceLanguage:          source,
		PreserveBackgroundAudio: r.FormValue("preserve_background_audio") == "true",
	}, true
}

func (s *Server) storeUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.cfg.Paths.UploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads directory: %w", err)
	}
	name := uuid.NewString() + filepath.Ext(header.Filename)
	path := filepath.Join(s.cfg.Paths.UploadsDir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return path, nil
}

// canonicalLanguage validates a BCP 47 language code and returns its
// canonical form.
func canonicalLanguage(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("target_language is required")
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%q is not a valid language code", raw)
	}
	return tag.String(), nil
}

func validationMessage(err error) string {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		first := invalid[0]
		return fmt.Sprintf("field %s failed %s validation", first.Field(), first.Tag())
	}
	return "request validation failed"
}
