// Package database wires the long-retention Postgres store: the
// AnalysisArchive mirror of completed tasks, and CredentialRecord /
// FraudSignal persistence (SPEC_FULL.md §3). Kept in the teacher's
// connection-pool and transaction-helper shape, repointed at the new
// schema.
package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/worthit/pipeline/internal/config"
	"github.com/worthit/pipeline/internal/errors"
)

// DB holds the database connection pool.
type DB struct {
	*sql.DB
}

// NewConnection opens a pooled Postgres connection and verifies it with
// a bounded set of retries, tolerating the container-startup race where
// Postgres isn't accepting connections yet.
func NewConnection(cfg *config.Config) (*DB, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New(errors.Config, "DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.Config)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxConnections / 2)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := db.PingContext(ctx); err != nil {
			lastErr = err
			slog.Warn("database connection attempt failed", "attempt", attempt, "error", err)
			if attempt < 3 {
				time.Sleep(2 * time.Second)
				continue
			}
		} else {
			lastErr = nil
			break
		}
	}

	if lastErr != nil {
		db.Close()
		return nil, errors.Wrap(lastErr, errors.ConnectionUnavailable)
	}

	slog.Info("connected to postgres")
	return &DB{db}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Migrate is a placeholder for init-script-driven schema management, the
// same stance the teacher takes pending a dedicated migration tool.
func (db *DB) Migrate() error {
	slog.Info("database migrations handled by init scripts")
	return nil
}

// Transaction runs fn inside a transaction, rolling back on error or
// panic and committing otherwise.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, errors.ConnectionUnavailable)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.Internal)
	}
	return nil
}

func nullTimeToTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
