package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RampTracker/internal/app"
	"RampTracker/internal/config"
	internalhttp "RampTracker/internal/http"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}
	log := logrus.NewEntry(app.NewLogger(cfg)).WithField("process", "api")

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	h := internalhttp.NewHandler(a.Orders, a.Events, log)
	srv := internalhttp.NewServer(h, a.Metrics.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		log.Infof("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	a.Close()
	log.Info("api stopped")
}
