package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"authcore.org/internal/config"
	"authcore.org/internal/obs"
	"authcore.org/internal/queue"
	"authcore.org/internal/store/pg"
	"authcore.org/internal/worker"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Component("dbworker", "main").WithError(err).Fatal("dbworker stopped")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Mode != config.ModePostgres || cfg.Storage.Processor != config.ProcessorQueue {
		return errors.New("dbworker needs postgres storage with the queue processor")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit, "dbworker")
	log := obs.Component("dbworker", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := pg.Open(cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	client, err := queue.Connect(ctx, cfg.Storage.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	w, err := worker.New(queue.NewList(client, cfg.Storage.Queue), pg.NewApplier(st.DB()),
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithPollTimeout(cfg.Worker.PollTimeout),
	)
	if err != nil {
		return err
	}

	sched, err := worker.NewScheduler(st, cfg.Worker.CleanupSchedule, cfg.Worker.ChallengeRetention, nil)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	log.WithFields(logrus.Fields{
		"queue":       cfg.Storage.Queue,
		"concurrency": cfg.Worker.Concurrency,
		"cleanup":     cfg.Worker.CleanupSchedule,
		"version":     version,
	}).Info("dbworker started")

	if err := w.Run(ctx); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
