// Package database implements the SQLite persistence for the platform:
// the ingestion control plane (projects, documents, chunks), the chat
// session snapshots, and the conversation checkpoint log. Each store
// owns its own database file under data/.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// busyTimeoutMS bounds how long a statement waits on a locked database
// before SQLITE_BUSY surfaces.
const busyTimeoutMS = 5000

// timeLayout is a fixed-width UTC stamp. Unlike RFC3339Nano it never
// trims fractional digits, so lexicographic ORDER BY on stored stamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Open opens (creating if needed) the SQLite database at path and applies
// the pragmas every service database runs with. SQLite works best with a
// single connection, so the pool is capped at one.
func Open(ctx context.Context, path string, logger *logrus.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// file: DSNs (in-memory databases in tests) carry no directory.
	if !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithField("path", path).Debug("SQLite database opened")
	return db, nil
}
