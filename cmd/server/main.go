// Command server runs the guest-facing HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/api"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/app"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/gallery"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must(cfg.LogLevel, cfg.Development())
	defer func() { _ = log.Sync() }()

	backends, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("init backends", zap.Error(err))
	}
	defer backends.Close()

	cache, closeCache := app.LandingCache(cfg)
	defer closeCache()

	hub := gallery.NewHub(backends.Docs, log)
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Error("gallery hub stopped", zap.Error(err))
		}
	}()

	deps := api.Deps{
		Stager:   backends.Stager,
		Pipeline: backends.Pipeline,
		Docs:     backends.Docs,
		Blobs:    backends.Blobs,
		Landing:  app.Landing(cfg, backends.Blobs, cache, log),
		Hub:      hub,
	}
	if cfg.AsyncUploads {
		client := asynq.NewClient(app.RedisOpt(cfg))
		defer client.Close()
		inspector := asynq.NewInspector(app.RedisOpt(cfg))
		defer inspector.Close()
		deps.Tasks = client
		deps.Inspector = inspector
	}

	if err := api.New(cfg, deps, log).Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
