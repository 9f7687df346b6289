package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"review-queue/internal/app"
	"review-queue/internal/config"
	"review-queue/internal/logging"
	"review-queue/internal/sweeper"
	"review-queue/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		logrus.WithError(err).Fatal("build logger")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open backends")
	}
	defer a.Close()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	s := sweeper.New(a.Service, a.Depth, sweeper.Options{
		Interval:   cfg.ReapInterval,
		LockWindow: cfg.LockWindow,
	}, log)
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("sweeper stopped")
	}
}
