package migrations

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"
)

// Dir is where new migration files are created, relative to the repo root
const Dir = "./migrations"

// DSN builds a clickhouse:// DSN for the database/sql driver goose uses
func DSN(host string, port int, database, user, password string, useTLS bool) string {
	query := url.Values{}
	query.Set("dial_timeout", "10s")
	query.Set("max_execution_time", "60")
	if useTLS {
		query.Set("secure", "true")
	}

	dsn := url.URL{
		Scheme:   "clickhouse",
		User:     url.UserPassword(user, password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + database,
		RawQuery: query.Encode(),
	}
	return dsn.String()
}

// Open opens and pings a database/sql handle to ClickHouse
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Setup points goose at the embedded migrations
func Setup() error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// Up applies every pending embedded migration
func Up(db *sql.DB) error {
	if err := Setup(); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
