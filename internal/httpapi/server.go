package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"overdub/internal/config"
	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/transform"
	"overdub/internal/workflow"
)

// Server hosts the HTTP API for job submission, status, and artifacts.
type Server struct {
	cfg       *config.Config
	store     *queue.Store
	manager   *workflow.Manager
	syncDub   *transform.DubHandler
	heartbeat *workflow.HeartbeatMonitor
	logger    *slog.Logger
	validate  *validator.Validate
	limiter   *rate.Limiter
	router    chi.Router
}

// NewServer wires the API routes over the given store and worker manager.
func NewServer(
	cfg *config.Config,
	store *queue.Store,
	manager *workflow.Manager,
	syncDub *transform.DubHandler,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		manager: manager,
		syncDub: syncDub,
		// The sync bridge holds jobs in processing while the client waits, so
		// it heartbeats them exactly like a worker would. Otherwise the stale
		// reclaimer would hand an in-flight sync job to the worker pool.
		heartbeat: workflow.NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		logger:   logging.NewComponentLogger(logger, "httpapi"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Limits.RequestsPerSec), cfg.Limits.Burst),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/artifacts/*", http.StripPrefix("/artifacts/",
		http.FileServer(http.Dir(cfg.Paths.ArtifactsDir))))

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v1/jobs/dub", s.handleSubmitDub)
		r.Post("/v1/jobs/export", s.handleSubmitExport)
		r.Post("/v1/dub", s.handleSyncDub)
		r.Get("/v1/jobs/{id}", s.handleJobStatus)
	})

	s.registerAdminRoutes(r)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the API server until the context is canceled, then
// shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Paths.APIBind,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("api listening", logging.String("bind", s.cfg.Paths.APIBind))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
