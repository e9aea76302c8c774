// Package main creates an application and prints its generated api key.
//
// Usage:
//
//	go run cmd/createapp/main.go -name "my application"
//
// The printed key goes in the NTORQUE_API_KEY header of enqueue requests.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/store"
)

func main() {
	log := logger.Component("createapp")

	name := flag.String("name", "", "application name")
	flag.Parse()
	if *name == "" {
		log.Fatal().Msg("The -name flag is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	ctx := context.Background()
	st, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DuePolicy())
	if err != nil {
		log.Fatal().Err(err).Msg("Database unavailable")
	}
	defer st.Close()

	app, err := st.CreateApplication(ctx, *name)
	if err != nil {
		log.Fatal().Err(err).Msg("Application not created")
	}

	fmt.Printf("Application %q created with id %d\n", app.Name, app.ID)
	for _, key := range app.APIKeys {
		fmt.Printf("API key: %s\n", key.Value)
	}
}
