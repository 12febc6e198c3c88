package workflow

import (
	"log/slog"
	"sync"
	"time"

	"overdub/internal/config"
	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/transform"
)

// Manager coordinates queue processing across the configured worker count.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	handlers map[queue.Kind]transform.Handler

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	maxRetries         int

	heartbeat *HeartbeatMonitor

	mu      sync.RWMutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job
}

// NewManager constructs a workflow manager over the given handler set.
func NewManager(cfg *config.Config, store *queue.Store, handlers map[queue.Kind]transform.Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		logger:             logger,
		handlers:           handlers,
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		maxRetries:         cfg.Workflow.MaxRetries,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}

// Running reports whether the worker pool is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent queue access error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// LastJob returns the job most recently finished by any worker.
func (m *Manager) LastJob() *queue.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastJob == nil {
		return nil
	}
	cp := *m.lastJob
	return &cp
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.Job) {
	if job == nil {
		return
	}
	cp := *job
	m.mu.Lock()
	m.lastJob = &cp
	m.mu.Unlock()
}
