package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ivyreader/internal/app"
	"ivyreader/migrations"
)

var logger *zap.Logger

func main() {
	var err error
	logger, err = app.NewLogger(getEnv("LOG_LEVEL", "info"), "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := rootCmd().Execute(); err != nil {
		logger.Error("Migration command failed", zap.Error(err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the IvyReader ClickHouse schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if it exists
			if err := godotenv.Load(); err != nil {
				logger.Debug(".env file not found, using existing environment variables")
			}
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(db *sql.DB, _ []string) error {
				if err := goose.Up(db, "."); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				logger.Info("Migrations completed successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withDB(func(db *sql.DB, _ []string) error {
				if err := goose.Down(db, "."); err != nil {
					return fmt.Errorf("failed to rollback migration: %w", err)
				}
				logger.Info("Rollback completed successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: withDB(func(db *sql.DB, _ []string) error {
				return goose.Status(db, ".")
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withDB(func(db *sql.DB, _ []string) error {
				version, err := goose.GetDBVersion(db)
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				logger.Info("Current migration version", zap.Int64("version", version))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "create <migration_name>",
			Short: "Create a new SQL migration in ./migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				// New files go to disk, not the embedded FS
				goose.SetBaseFS(nil)
				if err := goose.Create(nil, migrations.Dir, args[0], "sql"); err != nil {
					return fmt.Errorf("failed to create migration: %w", err)
				}
				logger.Info("Created migration", zap.String("name", args[0]))
				return nil
			},
		},
	)

	return root
}

// withDB opens ClickHouse from the environment and configures goose before running fn
func withDB(fn func(db *sql.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(getEnv("CLICKHOUSE_PORT", "9000"))
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
		}

		dsn := migrations.DSN(
			getEnv("CLICKHOUSE_HOST", "localhost"),
			port,
			getEnv("CLICKHOUSE_DATABASE", "default"),
			getEnv("CLICKHOUSE_USER", "default"),
			getEnv("CLICKHOUSE_PASSWORD", ""),
			getEnv("CLICKHOUSE_USE_TLS", "false") == "true",
		)

		db, err := migrations.Open(dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		logger.Info("Connected to ClickHouse successfully")

		if err := migrations.Setup(); err != nil {
			return err
		}
		return fn(db, args)
	}
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
