// Package main applies the embedded database migrations.
//
// Usage:
//
//	go run cmd/migrate/main.go
//
// Reads DATABASE_URL from the environment like the other processes.
package main

import (
	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/store"
)

func main() {
	log := logger.Component("migrate")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	if err := store.MigrateUp(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Msg("Migrations applied")
}
