package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/oentex/oentex/internal/storage"
)

func runMigrate(cmd *cobra.Command, flags globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return errors.New("migrate requires the postgres driver")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:      cfg.Database.DSN,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	applied, err := storage.RunMigrations(ctx, repo.Pool(), storage.Migrations())
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("migrations complete", "applied", applied)
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
	return nil
}
