// Package database owns the Postgres pool lifecycle and schema migrations.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries     = 5
	connectTimeout = 5 * time.Second
	initialBackoff = 500 * time.Millisecond
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Connect applies migrations and opens the pgx pool, retrying with
// exponential backoff so the service survives a database that comes up
// slightly later than it does.
func Connect(ctx context.Context, dsn string, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	if err := runMigrations(dsn, log); err != nil {
		return nil, fmt.Errorf("database: migrations: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: parse dsn: %w", err)
	}
	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	var pool *pgxpool.Pool
	backoff := initialBackoff
	for attempt := 1; attempt <= maxRetries; attempt++ {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		pool, err = pgxpool.NewWithConfig(connectCtx, cfg)
		if err == nil {
			err = pool.Ping(connectCtx)
		}
		cancel()
		if err == nil {
			log.WithField("attempt", attempt).Info("connected to database")
			return pool, nil
		}

		if pool != nil {
			pool.Close()
			pool = nil
		}
		if attempt == maxRetries {
			break
		}
		log.WithError(err).Warnf("database connect attempt %d/%d failed; retrying in %v", attempt, maxRetries, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("database: connect after %d attempts: %w", maxRetries, err)
}

// runMigrations uses a separate database/sql handle via pgx stdlib; migrate's
// postgres driver wants *sql.DB, not a pgx pool.
func runMigrations(dsn string, log logrus.FieldLogger) error {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer sqldb.Close()

	driver, err := postgres.WithInstance(sqldb, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("driver: %w", err)
	}

	src, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema up to date")
			return nil
		}
		return err
	}
	log.Info("migrations applied")
	return nil
}
