// Package db opens the editor's SQLite database and applies the embedded
// schema migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if n, err := db.markInterruptedJobs(); err != nil {
		if logger != nil {
			logger.Warn("failed to mark interrupted jobs", "error", err)
		}
	} else if n > 0 && logger != nil {
		logger.Info("marked interrupted transcription jobs as failed", "count", n)
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// migrate applies each pending migration together with its _migrations row
// in one transaction, so a failed script leaves no partial schema behind.
func (d *DB) migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := d.appliedMigrations()
	if err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	ctx := context.Background()
	for _, m := range entries {
		name := m.Name()
		if m.IsDir() || applied[name] {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = WithTx(ctx, d.conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if d.logger != nil {
			d.logger.Info("applied migration", "name", name)
		}
	}

	return nil
}

func (d *DB) appliedMigrations() (map[string]bool, error) {
	rows, err := d.conn.Query("SELECT name FROM _migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// markInterruptedJobs fails transcription jobs left running by a previous
// process; their subprocess died with it.
func (d *DB) markInterruptedJobs() (int64, error) {
	res, err := d.conn.ExecContext(context.Background(),
		`UPDATE jobs SET status = 'failed', error = 'interrupted by restart', updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now') WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
