// Package main runs an in-process miniredis for local development, so the
// server and worker can be exercised without a real Redis.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"

	"github.com/ntorque/ntorque/pkg/logger"
)

func main() {
	log := logger.Component("redis_server")

	addr := os.Getenv("NTORQUE_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start miniredis")
	}
	defer s.Close()

	log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down MiniRedis...")
}
