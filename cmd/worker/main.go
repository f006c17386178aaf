package main

import (
	"context"
	"os/signal"
	"syscall"

	"RampTracker/internal/app"
	"RampTracker/internal/config"
	"RampTracker/internal/worker"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}
	log := logrus.NewEntry(app.NewLogger(cfg)).WithField("process", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	w := &worker.Worker{
		Journal:  a.Journal,
		Orders:   a.Orders,
		Reindex:  a.Reindex,
		Grace:    cfg.ReindexGrace(),
		Interval: cfg.WorkerInterval(),
		Log:      log.WithField("component", "worker"),
	}

	log.WithField("interval", cfg.WorkerInterval()).Info("worker started")
	w.Run(ctx)
	log.Info("worker stopped")
}
