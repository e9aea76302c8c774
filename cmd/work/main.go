// Package main runs the nTorque worker process.
//
// The worker consumes task notifications from the Redis channel, performs
// the outbound web-hook requests, rescans the database for overdue tasks
// and prunes finished ones.
//
// Features:
//   - Concurrent task performing with graceful shutdown
//   - Prometheus metrics on the configured metrics address
//   - Automatic retry with exponential backoff between attempts
//   - Hourly cleanup of old completed and failed tasks
//
// Usage:
//
//	go run cmd/work/main.go
//
// Configuration is environment driven; see pkg/config.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
	"github.com/ntorque/ntorque/pkg/work"
)

func main() {
	log := logger.Component("worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DuePolicy())
	if err != nil {
		log.Fatal().Err(err).Msg("Database unavailable")
	}
	defer st.Close()

	notifier, err := notify.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis URL invalid")
	}
	defer notifier.Close()

	// Prometheus metrics server.
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
	go work.MonitorChannelDepth(ctx, notifier, []string{cfg.RedisChannel}, 5*time.Second)

	performer := work.NewPerformer(st, cfg)
	consumer := work.NewConsumer(notifier, performer, cfg)
	requeuer := work.NewRequeuer(st, notifier, cfg)
	cleaner := work.NewCleaner(st, cfg)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		cleaner.RunOnce(ctx)
	}); err != nil {
		log.Fatal().Err(err).Msg("Cleanup schedule invalid")
	}
	scheduler.Start()
	defer scheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	log.Info().Msg("Worker started. Waiting for tasks...")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		requeuer.Run(ctx)
	}()
	wg.Wait()

	log.Info().Msg("Worker stopped")
}
