package main

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/matt-riley/flagchain/migrations"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrates or initializes the PostgreSQL database to the latest schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadRuntime(cmd, flags)
			if err != nil {
				return err
			}

			pool, err := connectPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if status {
				return migrationStatus(pool)
			}
			return runMigrations(pool)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Print the applied migration versions instead of migrating")

	return cmd
}

func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := configureGoose(); err != nil {
		return err
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("migrations applied")
	return nil
}

func migrationStatus(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := configureGoose(); err != nil {
		return err
	}

	if err := goose.Status(db, "."); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

func configureGoose() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}
