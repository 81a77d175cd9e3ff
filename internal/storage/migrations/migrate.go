// Package migrations applies db/migrations/*.sql to the broadcast
// ledger's Postgres database via golang-migrate, adapted from
// internal/infra/persistence/migrations/migrate.go (same dial-ping-
// apply shape and migration-count OTel metric), regrounded on this
// engine's own telemetry package instead of the teacher's.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/driftnine/marketkeeper/internal/telemetry"
)

var errNotDirectory = errors.New("migrations path must be a directory")

var (
	counter   metric.Int64Counter
	counterMu sync.Once
)

// Apply ensures every migration under migrationsDir has been applied
// to the database reachable via dsn. A nil logger disables
// informational logging.
func Apply(ctx context.Context, dsn, migrationsDir string, logger *log.Logger) error {
	m, resolvedDir, closeFn, err := open(ctx, dsn, migrationsDir, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if logger != nil {
		logger.Printf("running broadcast ledger migrations: path=%s", resolvedDir)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMetric(ctx, "noop")
			return nil
		}
		recordMetric(ctx, "failed")
		return fmt.Errorf("apply migrations: %w", err)
	}

	recordMetric(ctx, "applied")
	return nil
}

// Rollback steps the broadcast ledger's schema back by steps
// migrations. Used by cmd/migrate's `down` subcommand for local
// development and incident recovery; STARTING never calls this (spec
// §4.7's refresh(force=true) is the only source of truth restored at
// startup).
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	m, resolvedDir, closeFn, err := open(ctx, dsn, migrationsDir, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if logger != nil {
		logger.Printf("rolling back broadcast ledger migrations: path=%s steps=%d", resolvedDir, steps)
	}

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMetric(ctx, "noop")
			return nil
		}
		recordMetric(ctx, "failed")
		return fmt.Errorf("rollback migrations: %w", err)
	}

	recordMetric(ctx, "rolled_back")
	return nil
}

func open(ctx context.Context, dsn, migrationsDir string, logger *log.Logger) (*migrate.Migrate, string, func(), error) {
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return nil, "", nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, "", nil, fmt.Errorf("open migrations connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", nil, fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		_ = db.Close()
		return nil, "", nil, fmt.Errorf("initialize pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fileURL(resolvedDir), "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return nil, "", nil, fmt.Errorf("initialize migrate instance: %w", err)
	}

	closeFn := func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("migrations: close source: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("migrations: close db: %v", dbErr)
		}
	}
	return m, resolvedDir, closeFn, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}
	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := &url.URL{Scheme: "file", Path: slashed}
	return u.String()
}

func recordMetric(ctx context.Context, result string) {
	counterMu.Do(func() {
		meter := otel.Meter("marketkeeper.storage.migrations")
		c, err := meter.Int64Counter("marketkeeper_db_migrations_total",
			metric.WithDescription("Broadcast ledger migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			counter = c
		}
	})
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("result", result),
	))
}
