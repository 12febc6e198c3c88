package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"overdub/internal/queue"
	"overdub/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.NewJob(ctx, queue.KindDub, queue.DubParams{
		InputPath:      "/tmp/source.wav",
		TargetLanguage: "es",
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Kind != queue.KindDub {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	params, err := fetched.DubParams()
	if err != nil {
		t.Fatalf("DubParams failed: %v", err)
	}
	if params.TargetLanguage != "es" {
		t.Fatalf("expected target language es, got %q", params.TargetLanguage)
	}
}

func TestGetByIDUnknownReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for unknown id, got %#v", job)
	}
}

func TestClaimNextIncrementsAttemptsAndExcludes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewDubJob(t, store, "fr")
	second := testsupport.NewDubJob(t, store, "de")

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job %s claimed, got %#v", first.ID, claimed)
	}
	if claimed.Status != queue.StatusProcessing {
		t.Fatalf("expected processing status, got %s", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", claimed.Attempts)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("expected heartbeat stamped on claim")
	}

	// A second claim must deliver the next pending job, never the in-flight one.
	other, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if other == nil || other.ID != second.ID {
		t.Fatalf("expected job %s, got %#v", second.ID, other)
	}

	third, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("third ClaimNext failed: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queue, got %#v", third)
	}
}

func TestExternalJobIDIsWriteOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewDubJob(t, store, "es")
	if err := store.SetExternalJobID(ctx, job.ID, "ext-1"); err != nil {
		t.Fatalf("SetExternalJobID failed: %v", err)
	}
	// Same value again is a no-op, not a conflict.
	if err := store.SetExternalJobID(ctx, job.ID, "ext-1"); err != nil {
		t.Fatalf("idempotent SetExternalJobID failed: %v", err)
	}
	if err := store.SetExternalJobID(ctx, job.ID, "ext-2"); err == nil {
		t.Fatal("expected error overwriting external job id")
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.ExternalJobID != "ext-1" {
		t.Fatalf("expected ext-1 preserved, got %q", fetched.ExternalJobID)
	}
}

func TestRequeuePreservesExternalIDAndAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.SetExternalJobID(ctx, claimed.ID, "ext-9"); err != nil {
		t.Fatalf("SetExternalJobID failed: %v", err)
	}

	if err := store.Requeue(ctx, claimed, "transient failure"); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	reclaimed, err := store.ClaimNext(ctx)
	if err != nil || reclaimed == nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed.ID != claimed.ID {
		t.Fatalf("expected same job reclaimed, got %s", reclaimed.ID)
	}
	if reclaimed.ExternalJobID != "ext-9" {
		t.Fatalf("expected external id preserved, got %q", reclaimed.ExternalJobID)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("expected attempts=2 after requeue+claim, got %d", reclaimed.Attempts)
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	// Cutoff in the future: the just-stamped heartbeat counts as stale.
	count, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job reclaimed, got %d", count)
	}

	fetched, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("expected pending after reclaim, got %s", fetched.Status)
	}
	if fetched.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared on reclaim")
	}

	// A fresh heartbeat must not be reclaimed.
	again, err := store.ClaimNext(ctx)
	if err != nil || again == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	count, err = store.ReclaimStaleProcessing(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no reclaim for live heartbeat, got %d", count)
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	testsupport.NewDubJob(t, store, "de")

	count, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job reset, got %d", count)
	}

	fetched, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("expected pending after reset, got %s", fetched.Status)
	}
}

func TestResultStatusCoupling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	job, err := store.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	job.SetCompleted("/artifacts/a.mp3", "http://127.0.0.1:8747/artifacts/a.mp3", 42*time.Second)
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", fetched.Status)
	}
	if fetched.ResultURL == "" || fetched.ResultPath == "" {
		t.Fatal("expected result set on completed job")
	}
	if fetched.ProcessingMS != 42000 {
		t.Fatalf("expected processing_ms=42000, got %d", fetched.ProcessingMS)
	}
	if fetched.ErrorMessage != "" {
		t.Fatalf("completed job must not carry an error, got %q", fetched.ErrorMessage)
	}
}

func TestUpdateRefusesTerminalOverwrite(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	// Two actors hold copies of the same processing row.
	stale := *claimed

	claimed.SetCompleted("/artifacts/a.mp3", "http://127.0.0.1:8747/artifacts/a.mp3", time.Second)
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	stale.SetTimedOut("wait budget exhausted")
	err = store.Update(ctx, &stale)
	if !errors.Is(err, queue.ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized, got %v", err)
	}

	fetched, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != queue.StatusCompleted {
		t.Fatalf("completed row regressed to %s", fetched.Status)
	}
	if fetched.ResultURL == "" {
		t.Fatal("result URL lost on attempted overwrite")
	}
}

func TestRetryFailedSkipsTimedOutUnlessNamed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	failed, _ := store.ClaimNext(ctx)
	failed.SetFailed("external_permanent", "unsupported tier")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	testsupport.NewDubJob(t, store, "de")
	timedOut, _ := store.ClaimNext(ctx)
	timedOut.SetTimedOut("wait budget exhausted")
	if err := store.Update(ctx, timedOut); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the failed job requeued, got %d", count)
	}

	count, err = store.RetryFailed(ctx, timedOut.ID)
	if err != nil {
		t.Fatalf("RetryFailed by id failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected timed-out job requeued when named, got %d", count)
	}
	fetched, _ := store.GetByID(ctx, timedOut.ID)
	if fetched.Status != queue.StatusPending || fetched.Attempts != 0 {
		t.Fatalf("expected pending with attempts reset, got %s attempts=%d", fetched.Status, fetched.Attempts)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDubJob(t, store, "es")
	testsupport.NewDubJob(t, store, "de")
	claimed, _ := store.ClaimNext(ctx)
	claimed.SetFailed("external_transient", "retries exhausted")
	if err := store.Update(ctx, claimed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}
