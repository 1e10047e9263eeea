// Package database builds the single DSN campaignctl connects with and opens
// the pooled *sql.DB, grounded on the teacher's internal/database/utils.go
// (trimmed to a single database — no per-workspace sharding here).
package database

import (
	"database/sql"
	"fmt"
	"time"

	"contrib.go.opencensus.io/integrations/ocsql"
	_ "github.com/lib/pq" // postgres driver

	"github.com/lollxz/campaignctl/config"
)

// ConnectionPoolSettings are the production pool tunables; no test-specific
// smaller pool is needed since campaignctl has no integration test DB mode.
const (
	maxOpenConns    = 25
	maxIdleConns    = 25
	connMaxLifetime = 20 * time.Minute
)

// DSN returns the postgres connection string for cfg.
func DSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
}

// serverDSN connects to the postgres server without selecting a database,
// used by EnsureDatabaseExists to run CREATE DATABASE.
func serverDSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/postgres?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.SSLMode)
}

// EnsureDatabaseExists creates cfg.DBName if it doesn't already exist.
func EnsureDatabaseExists(cfg *config.DatabaseConfig) error {
	db, err := sql.Open("postgres", serverDSN(cfg))
	if err != nil {
		return fmt.Errorf("connecting to postgres server: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("pinging postgres server: %w", err)
	}

	var exists bool
	err = db.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, cfg.DBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking database existence: %w", err)
	}
	if exists {
		return nil
	}

	_, err = db.Exec(fmt.Sprintf(`CREATE DATABASE %s`, quoteIdentifier(cfg.DBName)))
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	return nil
}

// Open opens and pings a pooled connection to cfg's database. When traced is
// true, the driver is wrapped with ocsql so every query is observed by the
// opencensus exporter started via pkg/metrics.
func Open(cfg *config.DatabaseConfig, traced bool) (*sql.DB, error) {
	driverName := "postgres"
	if traced {
		wrapped, err := ocsql.Register("postgres", ocsql.WithAllTraceOptions())
		if err != nil {
			return nil, fmt.Errorf("registering traced driver: %w", err)
		}
		driverName = wrapped
	}

	db, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxLifetime / 2)

	if traced {
		ocsql.RecordStats(db, 5*time.Second)
	}

	return db, nil
}

func quoteIdentifier(name string) string {
	return `"` + name + `"`
}
