package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/cache"
	"github.com/report-variables-server/internal/config"
	"github.com/report-variables-server/internal/database"
	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/reducer"
	"github.com/report-variables-server/internal/remote"
	"github.com/report-variables-server/internal/repository"
)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	lite       bool
}

// loadConfig reads the full configuration, or the environment-only lite
// configuration backed by SQLite under the data directory.
func loadConfig(opts options) (*domain.Config, error) {
	if opts.lite {
		lite := config.LoadLiteConfig()
		if err := lite.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		cfg := lite.ToConfig()
		return cfg, config.Validate(cfg)
	}

	manager, err := config.NewManager(opts.configFile)
	if err != nil {
		return nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return manager.GetConfig(), nil
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// app holds the wired dependencies of a running server.
type app struct {
	cfg     *domain.Config
	logger  *logrus.Logger
	service *remote.Service
	store   *reducer.Store
	closers []func()
}

// newApp opens the database, applies migrations, connects the optional Redis
// set cache and seeds the store with the registered rating sets.
func newApp(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	dialect, err := repository.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	if err := migrateUp(ctx, cfg, logger); err != nil {
		return nil, err
	}

	db, err := a.openDatabase(ctx, dialect)
	if err != nil {
		a.Close()
		return nil, err
	}

	var serviceOpts []remote.Option
	if cfg.Cache.RedisURL != "" {
		sets, err := cache.NewSetCacheClient(ctx, cfg.Cache, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { sets.Close() })
		serviceOpts = append(serviceOpts, remote.WithSetCache(sets))
	}
	ratings, err := cache.NewRatingSets(cfg.Cache.RatingSetSize)
	if err != nil {
		a.Close()
		return nil, err
	}
	serviceOpts = append(serviceOpts, remote.WithRatingSetCache(ratings))

	backend := repository.NewSQLBackend(db, dialect, logger)
	a.service = remote.NewService(backend, logger, cfg.Remote, serviceOpts...)

	policy, err := reducer.ParseOrphanPolicy(cfg.Derivation.OrphanPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = reducer.NewStore(reducer.NewReducer(logger, policy), reducer.NewState(nil))

	ratingSets, err := a.service.FetchRatingSets(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading rating sets: %w", err)
	}
	for _, rs := range ratingSets {
		a.store.Dispatch(reducer.RegisterRatingSet{Set: rs})
	}

	logger.WithFields(logrus.Fields{
		"driver":      cfg.Database.Driver,
		"rating_sets": len(ratingSets),
		"set_cache":   cfg.Cache.RedisURL != "",
		"orphans":     policy,
	}).Info("Application initialized")
	return a, nil
}

func (a *app) openDatabase(ctx context.Context, dialect repository.Dialect) (*sql.DB, error) {
	if dialect == repository.SQLite {
		db, err := database.OpenSQLite(ctx, a.cfg.Database.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		return db, nil
	}

	conn, err := database.NewConnection(ctx, database.ConfigFrom(a.cfg.Database), a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)
	return conn.SQL(), nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newMigrationRunner(cfg *domain.Config, logger *logrus.Logger) (*database.MigrationRunner, error) {
	if strings.HasPrefix(strings.ToLower(cfg.Database.Driver), "sqlite") {
		// golang-migrate's sqlite driver does not create parent directories.
		db, err := database.OpenSQLite(context.Background(), cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		db.Close()
	}
	return database.NewMigrationRunner(config.DatabaseURL(cfg.Database), cfg.Database.MigrationsPath, logger)
}

func migrateUp(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) error {
	runner, err := newMigrationRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}
