// Command worker processes queued batch uploads.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/app"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/config"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/logging"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/queue"
	"github.com/ArmandoV15/wedding-photo-gallery/internal/worker"
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

	server := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency:     cfg.ProcessingPool,
		Queues:          map[string]int{queue.QueueName: 1},
		ShutdownTimeout: 30 * time.Second,
		Logger:          log.Sugar(),
	})
	processor := worker.NewProcessor(backends.Stager, backends.Pipeline, log)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info("worker started", zap.Int("concurrency", cfg.ProcessingPool))
	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
