package testsupport

import (
	"context"
	"testing"

	"overdub/internal/config"
	"overdub/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDubJob creates a pending dub job for tests using the provided store.
func NewDubJob(t testing.TB, store *queue.Store, target string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), queue.KindDub, queue.DubParams{
		InputPath:      "/tmp/input.wav",
		TargetLanguage: target,
	})
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
