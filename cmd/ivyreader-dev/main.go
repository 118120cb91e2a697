package main

import (
	"context"
	"log"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"go.uber.org/zap"

	"ivyreader/internal/app"
	"ivyreader/migrations"
)

const devPassword = "devpassword"

func main() {
	logger, err := app.NewLogger("info", "console")
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("Dev environment failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx := context.Background()

	logger.Info("Starting ClickHouse testcontainer...")

	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(devPassword),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		return err
	}

	// Ensure container cleanup on exit
	defer func() {
		logger.Info("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			logger.Warn("Failed to terminate container", zap.Error(err))
		}
	}()

	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		return err
	}

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return err
	}

	logger.Info("ClickHouse started", zap.String("host", host), zap.String("port", port.Port()))

	db, err := migrations.Open(migrations.DSN(host, port.Int(), "default", "default", devPassword, false))
	if err != nil {
		return err
	}
	err = migrations.Up(db)
	db.Close()
	if err != nil {
		return err
	}
	logger.Info("Migrations applied")

	// Point the application at the container
	os.Setenv("STORAGE_BACKEND", "clickhouse")
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", devPassword)
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("WEBHOOK_MODE", "false")
	if os.Getenv("LOG_FORMAT") == "" {
		os.Setenv("LOG_FORMAT", "console")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", "debug")
	}

	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set. Please set it in your .env file or environment.")
	}
	if os.Getenv("ALLOWED_USER_IDS") == "" {
		logger.Warn("ALLOWED_USER_IDS not set. The bot will not accept any commands.")
	}

	logger.Info("Starting application with ClickHouse backend...")

	application, err := app.New()
	if err != nil {
		return err
	}

	// Run blocks until SIGINT/SIGTERM
	return application.Run()
}
