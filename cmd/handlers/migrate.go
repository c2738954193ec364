package handlers

import (
	"context"
	"fmt"

	"cyberbrief/internal/config"
	"cyberbrief/internal/logger"
	"cyberbrief/internal/persistence"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command for applying the database schema.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Create or update the CyberBrief database schema.

All statements are idempotent, so the command is safe to run repeatedly and
on every deploy.

Examples:
  # Apply the schema
  cyberbrief migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("no database configured, set DATABASE_URL")
	}

	db, err := persistence.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("database close failed", "reason", err.Error())
		}
	}()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("Schema is up to date.")
	return nil
}
