package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"overdub/internal/artifacts"
	"overdub/internal/config"
	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/services"
	"overdub/internal/services/speechlab"
	"overdub/internal/testsupport"
	"overdub/internal/transform"
	"overdub/internal/workflow"
)

type stubProcessor struct {
	externalID string
	waitErr    error
	result     *speechlab.Result
}

func (s *stubProcessor) SubmitDub(ctx context.Context, params queue.DubParams) (string, error) {
	return s.externalID, nil
}

func (s *stubProcessor) SubmitExport(ctx context.Context, kind queue.Kind, params queue.ExportParams) (string, error) {
	return s.externalID, nil
}

func (s *stubProcessor) WaitForResult(ctx context.Context, externalID string, budget, interval time.Duration) (*speechlab.Result, error) {
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	return s.result, nil
}

func newTestServer(t *testing.T, processor transform.Processor) (*Server, *config.Config, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	publisher := artifacts.NewPublisher(cfg)

	handlers := transform.Handlers(cfg, processor, publisher, store, logging.NewNop())
	manager := workflow.NewManager(cfg, store, handlers, logging.NewNop())
	syncDub := transform.SyncDubHandler(cfg, processor, publisher, store, logging.NewNop())

	return NewServer(cfg, store, manager, syncDub, logging.NewNop()), cfg, store
}

func dubForm(t *testing.T, target string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("media", "clip.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("RIFF fake audio"))
	writer.WriteField("target_language", target)
	if err := writer.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestSubmitExportAccepted(t *testing.T) {
	server, _, store := newTestServer(t, &stubProcessor{})

	payload := `{"kind":"mp4","transcriptId":"tr-1","templateId":"caption-basic"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/export", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	job, err := store.GetByID(context.Background(), resp.JobID)
	if err != nil || job == nil {
		t.Fatalf("job not stored: %v", err)
	}
	if job.Kind != queue.KindExportVideo || job.Status != queue.StatusPending {
		t.Fatalf("unexpected job %s %s", job.Kind, job.Status)
	}
}

func TestSubmitExportRejectsUnknownKind(t *testing.T) {
	server, _, _ := newTestServer(t, &stubProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/export",
		strings.NewReader(`{"kind":"gif","transcriptId":"tr-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitExportRequiresSource(t *testing.T) {
	server, _, _ := newTestServer(t, &stubProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/export",
		strings.NewReader(`{"kind":"mp3"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitDubStoresUploadAndCanonicalizesLanguage(t *testing.T) {
	server, cfg, store := newTestServer(t, &stubProcessor{})

	body, contentType := dubForm(t, "ES")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/dub", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	job, _ := store.GetByID(context.Background(), resp.JobID)
	params, err := job.DubParams()
	if err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.TargetLanguage != "es" {
		t.Fatalf("expected canonical language es, got %q", params.TargetLanguage)
	}
	if !strings.HasPrefix(params.InputPath, cfg.Paths.UploadsDir) {
		t.Fatalf("upload stored outside uploads dir: %s", params.InputPath)
	}
}

func TestSubmitDubRejectsBadLanguage(t *testing.T) {
	server, _, _ := newTestServer(t, &stubProcessor{})

	body, contentType := dubForm(t, "not a language")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/dub", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, &stubProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/unknown", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJobStatusReportsFailure(t *testing.T) {
	server, _, store := newTestServer(t, &stubProcessor{})
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	job, _ := store.ClaimNext(ctx)
	job.SetFailed("external_permanent", "voice model unavailable")
	store.Update(ctx, job)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view jobView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.Status != "failed" || view.Error == nil || view.Error.Kind != "external_permanent" {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.ResultURL != "" {
		t.Fatal("failed job must not expose a result url")
	}
}

func TestSyncDubReturnsInlineAudio(t *testing.T) {
	processor := &stubProcessor{
		externalID: "ext-sync",
		result:     &speechlab.Result{Data: []byte("dubbed audio"), ContentType: "audio/mpeg", Filename: "dubbed.mp3"},
	}
	server, _, store := newTestServer(t, processor)

	body, contentType := dubForm(t, "fr")
	req := httptest.NewRequest(http.MethodPost, "/v1/dub", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp syncDubResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		t.Fatalf("audio is not valid base64: %v", err)
	}
	if string(decoded) != "dubbed audio" {
		t.Fatalf("unexpected audio %q", decoded)
	}
	if resp.ExternalJobID != "ext-sync" {
		t.Fatalf("expected external id in response, got %q", resp.ExternalJobID)
	}

	job, _ := store.GetByID(context.Background(), resp.JobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("sync job must be born claimed with one attempt, got %d", job.Attempts)
	}
}

func TestSyncDubTimeoutAnswers408WithJobID(t *testing.T) {
	processor := &stubProcessor{
		externalID: "ext-slow",
		waitErr:    services.Wrap(services.ErrTimeout, "speechlab", "wait", "budget exhausted", nil),
	}
	server, cfg, store := newTestServer(t, processor)

	body, contentType := dubForm(t, "de")
	req := httptest.NewRequest(http.MethodPost, "/v1/dub", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", rec.Code)
	}
	var envelope errorEnvelope
	json.Unmarshal(rec.Body.Bytes(), &envelope)
	if envelope.JobID == "" {
		t.Fatal("timeout response must include the job id for later polling")
	}

	job, _ := store.GetByID(context.Background(), envelope.JobID)
	if job.Status != queue.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", job.Status)
	}

	entries, err := os.ReadDir(cfg.Paths.UploadsDir)
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected uploaded source removed after terminal timeout, found %d files", len(entries))
	}
}

type blockingProcessor struct {
	release chan struct{}
}

func (b *blockingProcessor) SubmitDub(ctx context.Context, params queue.DubParams) (string, error) {
	return "ext-hold", nil
}

func (b *blockingProcessor) SubmitExport(ctx context.Context, kind queue.Kind, params queue.ExportParams) (string, error) {
	return "ext-hold", nil
}

func (b *blockingProcessor) WaitForResult(ctx context.Context, externalID string, budget, interval time.Duration) (*speechlab.Result, error) {
	select {
	case <-b.release:
		return &speechlab.Result{Data: []byte("late audio"), ContentType: "audio/mpeg"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSyncDubHeartbeatsDuringWait(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.HeartbeatInterval = 1
	store := testsupport.MustOpenStore(t, cfg)
	publisher := artifacts.NewPublisher(cfg)
	processor := &blockingProcessor{release: make(chan struct{})}
	handlers := transform.Handlers(cfg, processor, publisher, store, logging.NewNop())
	manager := workflow.NewManager(cfg, store, handlers, logging.NewNop())
	syncDub := transform.SyncDubHandler(cfg, processor, publisher, store, logging.NewNop())
	server := NewServer(cfg, store, manager, syncDub, logging.NewNop())

	body, contentType := dubForm(t, "es")
	req := httptest.NewRequest(http.MethodPost, "/v1/dub", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		server.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	ctx := context.Background()
	job := waitForProcessingJob(t, store)
	initial := *job.LastHeartbeat

	refreshed := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if current.LastHeartbeat != nil && current.LastHeartbeat.After(initial) {
			refreshed = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !refreshed {
		t.Fatal("heartbeat never refreshed during the inline wait")
	}

	// A reclaim pass dated just after the claim stamp must leave the job with
	// the bridge now that the heartbeat has moved past it.
	count, err := store.ReclaimStaleProcessing(ctx, initial.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("reclaimer took an actively heartbeating sync job (%d reclaimed)", count)
	}

	close(processor.release)
	<-done

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	final, _ := store.GetByID(ctx, job.ID)
	if final.Status != queue.StatusCompleted || final.Attempts != 1 {
		t.Fatalf("expected completed with one attempt, got %s attempts=%d", final.Status, final.Attempts)
	}
}

func waitForProcessingJob(t *testing.T, store *queue.Store) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := store.List(context.Background(), queue.StatusProcessing)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(jobs) == 1 && jobs[0].LastHeartbeat != nil {
			return jobs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sync job never appeared in processing")
	return nil
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	server, cfg, _ := newTestServer(t, &stubProcessor{})
	cfg.Limits.RequestsPerSec = 1
	cfg.Limits.Burst = 1
	server.limiter.SetLimit(1)
	server.limiter.SetBurst(1)

	var rejected bool
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/whatever", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected at least one request rejected by the rate limiter")
	}
}

func TestHealthzReportsQueueCounters(t *testing.T) {
	server, _, store := newTestServer(t, &stubProcessor{})
	testsupport.NewDubJob(t, store, "es")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Ready bool           `json:"ready"`
		Queue map[string]int `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Queue["pending"] != 1 {
		t.Fatalf("expected one pending job, got %v", body.Queue)
	}
}
