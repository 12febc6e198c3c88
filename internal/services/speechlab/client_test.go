package speechlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"overdub/internal/queue"
	"overdub/internal/services"
)

func writeTestMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF fake audio"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	return path
}

func TestSubmitDubUploadsMediaAndFields(t *testing.T) {
	var gotTarget, gotSource, gotFilename string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/dubs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotTarget = r.FormValue("target_language")
		gotSource = r.FormValue("source_language")
		if _, header, err := r.FormFile("media"); err == nil {
			gotFilename = header.Filename
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ext-42"})
	}))
	defer server.Close()

	client, err := New(server.URL, WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	id, err := client.SubmitDub(context.Background(), queue.DubParams{
		InputPath:        writeTestMedia(t),
		OriginalFilename: "episode.wav",
		TargetLanguage:   "es",
		SourceLanguage:   "en",
	})
	if err != nil {
		t.Fatalf("SubmitDub failed: %v", err)
	}
	if id != "ext-42" {
		t.Fatalf("expected ext-42, got %q", id)
	}
	if gotTarget != "es" || gotSource != "en" {
		t.Fatalf("language fields not forwarded: target=%q source=%q", gotTarget, gotSource)
	}
	if gotFilename != "episode.wav" {
		t.Fatalf("expected original filename forwarded, got %q", gotFilename)
	}
}

func TestSubmitDubMissingMediaIsValidation(t *testing.T) {
	client, err := New("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = client.SubmitDub(context.Background(), queue.DubParams{
		InputPath:      "/nonexistent/clip.wav",
		TargetLanguage: "es",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitExportSendsJSON(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/exports" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ext-7"})
	}))
	defer server.Close()

	client, _ := New(server.URL)
	id, err := client.SubmitExport(context.Background(), queue.KindExportVideo, queue.ExportParams{
		AudioURL:     "https://cdn.example/audio.mp3",
		TranscriptID: "tr-1",
		TemplateID:   "caption-basic",
	})
	if err != nil {
		t.Fatalf("SubmitExport failed: %v", err)
	}
	if id != "ext-7" {
		t.Fatalf("expected ext-7, got %q", id)
	}
	if payload["format"] != "video" {
		t.Fatalf("expected video format, got %v", payload["format"])
	}
	if payload["audio_url"] != "https://cdn.example/audio.mp3" {
		t.Fatalf("audio url not forwarded: %v", payload["audio_url"])
	}
}

func TestDoRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(StatusResponse{ID: "ext-1", State: StateProcessing})
	}))
	defer server.Close()

	client, _ := New(server.URL, WithRetry(3, time.Millisecond))
	status, err := client.PollStatus(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("PollStatus failed: %v", err)
	}
	if status.State != StateProcessing {
		t.Fatalf("expected processing, got %s", status.State)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown job"})
	}))
	defer server.Close()

	client, _ := New(server.URL, WithRetry(3, time.Millisecond))
	_, err := client.PollStatus(context.Background(), "missing")
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single attempt, got %d", calls.Load())
	}
}

func TestFetchResultReturnsMediaAndContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/ext-1/result" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Disposition", `attachment; filename="dubbed.mp3"`)
		w.Write([]byte("mp3 bytes"))
	}))
	defer server.Close()

	client, _ := New(server.URL)
	result, err := client.FetchResult(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("FetchResult failed: %v", err)
	}
	if string(result.Data) != "mp3 bytes" {
		t.Fatalf("unexpected data %q", result.Data)
	}
	if result.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", result.ContentType)
	}
	if result.Filename != "dubbed.mp3" {
		t.Fatalf("unexpected filename %q", result.Filename)
	}
}

func TestFetchResultRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3 bytes"))
	}))
	defer server.Close()

	client, _ := New(server.URL, WithRetry(3, time.Millisecond))
	result, err := client.FetchResult(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("FetchResult failed: %v", err)
	}
	if string(result.Data) != "mp3 bytes" {
		t.Fatalf("unexpected data %q", result.Data)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestWaitForResultProgressesToDone(t *testing.T) {
	states := []JobState{StateQueued, StateProcessing, StateDone}
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/jobs/ext-1/result" {
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("done"))
			return
		}
		idx := int(polls.Add(1)) - 1
		if idx >= len(states) {
			idx = len(states) - 1
		}
		json.NewEncoder(w).Encode(StatusResponse{ID: "ext-1", State: states[idx]})
	}))
	defer server.Close()

	client, _ := New(server.URL)
	result, err := client.WaitForResult(context.Background(), "ext-1", 5*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResult failed: %v", err)
	}
	if string(result.Data) != "done" {
		t.Fatalf("unexpected result %q", result.Data)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestWaitForResultRemoteFailureIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{ID: "ext-1", State: StateFailed, Detail: "voice model unavailable"})
	}))
	defer server.Close()

	client, _ := New(server.URL)
	_, err := client.WaitForResult(context.Background(), "ext-1", time.Second, 5*time.Millisecond)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestWaitForResultBudgetExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{ID: "ext-1", State: StateProcessing})
	}))
	defer server.Close()

	client, _ := New(server.URL)
	_, err := client.WaitForResult(context.Background(), "ext-1", 30*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
