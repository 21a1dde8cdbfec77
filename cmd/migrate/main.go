// Command migrate applies or inspects the escrow schema.
//
//	migrate up | down | status | version | redo | reset
package main

import (
	"context"
	"fmt"
	"os"

	"notes-escrow/config"
	pgStorage "notes-escrow/internal/adapter/storage/postgres"
	"notes-escrow/pkg/logger"
)

func main() {
	command := "up"
	var args []string
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx := context.Background()
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if err := pgStorage.RunMigrations(ctx, pool, command, args...); err != nil {
		log.Error().Err(err).Str("command", command).Msg("migration failed")
		pool.Close()
		os.Exit(1)
	}
	log.Info().Str("command", command).Msg("migration finished")
}
