// Package config provides configuration management for the server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/report-variables-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It stores everything in a local SQLite file and needs no external services.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Cache settings
	RatingSetCacheSize int // Maximum rating sets held in memory

	// Derivation
	OrphanPolicy string // orphan or cascade

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".report-variables")

	return &LiteConfig{
		DataDir:            dataDir,
		RatingSetCacheSize: 128,
		OrphanPolicy:       "orphan",
		Transport:          "stdio",
		HTTPPort:           8080,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("RVS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("RVS_RATING_SET_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingSetCacheSize = n
		}
	}

	if v := os.Getenv("RVS_ORPHAN_POLICY"); v != "" {
		cfg.OrphanPolicy = v
	}

	// Transport
	if v := os.Getenv("RVS_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("RVS_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("RVS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RVS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DatabasePath returns the path to the SQLite database.
func (c *LiteConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "variables.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ToConfig expands the lite settings into a full configuration using the
// SQLite driver and no Redis cache.
func (c *LiteConfig) ToConfig() *domain.Config {
	return &domain.Config{
		Environment: "development",
		Server: domain.ServerConfig{
			Host:         "127.0.0.1",
			Port:         c.HTTPPort,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: domain.DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: c.DatabasePath(),
		},
		Cache: domain.CacheConfig{
			RatingSetSize: c.RatingSetCacheSize,
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
		},
		Derivation: domain.DerivationConfig{
			OrphanPolicy: c.OrphanPolicy,
		},
		Remote: domain.RemoteConfig{
			BreakerMaxRequests: 3,
			BreakerInterval:    60 * time.Second,
			BreakerTimeout:     30 * time.Second,
			BreakerMinRequests: 5,
			BreakerFailRatio:   0.6,
		},
		API: domain.APIConfig{
			RateLimit:      20,
			RateBurst:      40,
			RequestTimeout: 15 * time.Second,
		},
		MCP: domain.MCPConfig{
			ServerName:    "report-variables",
			ServerVersion: "1.0.0",
		},
	}
}
