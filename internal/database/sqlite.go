package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the SQLite database at path. The
// schema is applied separately through the migration runner.
func OpenSQLite(ctx context.Context, path string, logger *logrus.Logger) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	logger.WithField("path", path).Info("SQLite database opened")
	return db, nil
}

// SQLiteURL is the golang-migrate URL of the SQLite database at path.
func SQLiteURL(path string) string {
	return "sqlite://" + path
}
