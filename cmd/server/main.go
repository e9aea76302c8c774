// Package main runs the nTorque ingress server.
//
// The server accepts web-hook tasks over HTTP, persists them to postgres
// and notifies the Redis channel so a worker picks them up immediately.
//
// Endpoints:
//
//	GET  /                 - liveness message
//	POST /?url=...         - enqueue a task, body and headers are replayed
//	GET  /tasks/:id        - task status
//	POST /tasks/:id/push   - re-notify the channel about a task
//
// Usage:
//
//	go run cmd/server/main.go
//
// Configuration is environment driven; see pkg/config.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ntorque/ntorque/pkg/api"
	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
)

func main() {
	log := logger.Component("server")

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
	if err := notifier.Ping(ctx); err != nil {
		// Enqueued tasks still get picked up by the requeuer, so a dark
		// Redis is a warning, not a startup failure.
		log.Warn().Err(err).Msg("Redis unavailable, running without fast-path notifications")
	}

	if cfg.Authenticate {
		log.Info().Msg("API key authentication enabled")
	} else {
		log.Warn().Msg("API key authentication disabled")
	}

	a := api.New(cfg, st, notifier)
	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
		cancel()
	}()

	log.Info().Str("addr", cfg.BindAddr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
