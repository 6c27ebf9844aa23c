package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/migrations"
)

// MigrationRunner handles database migrations
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner creates a new migration runner. With an empty
// migrationsPath the migrations compiled into the binary are used, picked
// by the URL scheme (postgres:// or sqlite://).
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	var (
		m   *migrate.Migrate
		err error
	)
	if migrationsPath != "" {
		m, err = migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	} else {
		m, err = newEmbedded(databaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}

	return &MigrationRunner{
		migrate: m,
		log:     logger,
	}, nil
}

func newEmbedded(databaseURL string) (*migrate.Migrate, error) {
	dir, err := migrationDir(databaseURL)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, databaseURL)
}

func migrationDir(databaseURL string) (string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "sqlite", nil
	default:
		return "", fmt.Errorf("no embedded migrations for database URL scheme of %q", redactURL(databaseURL))
	}
}

func redactURL(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i+3] + "..."
	}
	return "..."
}

// Up runs all pending migrations
func (mr *MigrationRunner) Up(ctx context.Context) error {
	mr.log.Info("Running database migrations up")

	if err := mr.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.Info("No pending migrations to run")
			return nil
		}
		return fmt.Errorf("running migrations up: %w", err)
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil {
		mr.log.WithError(err).Warn("Could not get migration version after up")
	} else {
		mr.log.WithFields(logrus.Fields{
			"version": version,
			"dirty":   dirty,
		}).Info("Migrations completed successfully")
	}

	return nil
}

// Down rolls back one migration
func (mr *MigrationRunner) Down(ctx context.Context) error {
	mr.log.Info("Rolling back one migration")

	if err := mr.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.Info("No migrations to roll back")
			return nil
		}
		return fmt.Errorf("rolling back migration: %w", err)
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		mr.log.WithError(err).Warn("Could not get migration version after down")
	} else {
		mr.log.WithFields(logrus.Fields{
			"version": version,
			"dirty":   dirty,
		}).Info("Migration rolled back successfully")
	}

	return nil
}

// Version returns the current migration version
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.migrate.Version()
}

// Close closes the migration runner
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
