package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kanban/api/internal/config"
	"kanban/api/internal/store"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "List pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if migrateStatus {
		pending, err := store.PendingMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("failed to list migrations: %w", err)
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations")
			return nil
		}
		for _, name := range pending {
			fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", name)
		}
		return nil
	}

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	for _, name := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied  %s\n", name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(applied))
	return nil
}
