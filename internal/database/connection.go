package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
)

// Config holds database configuration
type Config struct {
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	SSLMode     string
}

// ConfigFrom converts the application database section to pool settings.
func ConfigFrom(cfg domain.DatabaseConfig) Config {
	minConns := int32(cfg.MaxIdleConns)
	if minConns > int32(cfg.MaxOpenConns) {
		minConns = int32(cfg.MaxOpenConns)
	}
	return Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Database:    cfg.Database,
		Username:    cfg.Username,
		Password:    cfg.Password,
		MaxConns:    int32(cfg.MaxOpenConns),
		MinConns:    minConns,
		MaxConnLife: cfg.ConnMaxLifetime,
		MaxConnIdle: 30 * time.Minute,
		SSLMode:     cfg.SSLMode,
	}
}

// URL renders the config as a postgres:// connection URL, the form
// golang-migrate expects.
func (c Config) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// DB wraps the pgxpool.Pool with additional functionality
type DB struct {
	Pool  *pgxpool.Pool
	sqlDB *sql.DB
	log   *logrus.Logger
}

// NewConnection creates a new database connection pool
func NewConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database, config.Username, config.Password, config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	poolConfig.MinConns = config.MinConns
	if config.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLife
	}
	if config.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":      config.Host,
		"port":      config.Port,
		"database":  config.Database,
		"max_conns": poolConfig.MaxConns,
		"min_conns": poolConfig.MinConns,
	}).Info("Database connection pool established")

	return &DB{
		Pool:  pool,
		sqlDB: stdlib.OpenDBFromPool(pool),
		log:   logger,
	}, nil
}

// SQL exposes the pool through database/sql. The handle shares the pool's
// connections and is closed with it.
func (db *DB) SQL() *sql.DB {
	return db.sqlDB
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.sqlDB != nil {
		if err := db.sqlDB.Close(); err != nil {
			db.log.WithError(err).Warn("Closing database/sql handle")
		}
	}
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("Database connection pool closed")
	}
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// OpenPostgresURL opens a database/sql handle through lib/pq. It is used
// where only a connection URL is at hand, such as container-backed tests
// and one-shot CLI commands.
func OpenPostgresURL(ctx context.Context, databaseURL string, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	logger.Debug("Opened postgres handle from URL")
	return db, nil
}
