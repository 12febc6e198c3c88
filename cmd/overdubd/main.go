package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"overdub/internal/artifacts"
	"overdub/internal/config"
	"overdub/internal/daemon"
	"overdub/internal/httpapi"
	"overdub/internal/logging"
	"overdub/internal/queue"
	"overdub/internal/services/speechlab"
	"overdub/internal/transform"
	"overdub/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}

	processor, err := speechlab.NewFromConfig(cfg)
	if err != nil {
		logger.Error("create speech service client", logging.Error(err))
		return
	}
	publisher := artifacts.NewPublisher(cfg)

	handlers := transform.Handlers(cfg, processor, publisher, store, logger)
	manager := workflow.NewManager(cfg, store, handlers, logger)
	syncDub := transform.SyncDubHandler(cfg, processor, publisher, store, logger)
	api := httpapi.NewServer(cfg, store, manager, syncDub, logger)

	d, err := daemon.New(cfg, store, manager, api, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("overdubd shutting down")
}
