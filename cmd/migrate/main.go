// Package main runs the database migrations embedded in the postgres store.
//
// Usage: migrate <command> [args]
// Commands are goose commands such as up, down, status, redo, version.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/autocut-api/internal/config"
	"github.com/maauso/autocut-api/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: migrate <command> [args]")
		fmt.Fprintln(flag.CommandLine.Output(), "Commands: up, up-by-one, up-to, down, down-to, redo, reset, status, version")
	}
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return fmt.Errorf("migration command is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.PostgresEnabled() {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger := cfg.NewLogger()
	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	logger.Info("starting migration", slog.String("command", command))
	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, command, args[1:]...); err != nil {
		return fmt.Errorf("migration %s: %w", command, err)
	}
	logger.Info("migration finished", slog.String("command", command))
	return nil
}
