package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Derivation  DerivationConfig `mapstructure:"derivation"`
	Remote      RemoteConfig     `mapstructure:"remote"`
	API         APIConfig        `mapstructure:"api"`
	MCP         MCPConfig        `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	RedisURL      string        `mapstructure:"redis_url"` // empty disables the set cache
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PoolSize      int           `mapstructure:"pool_size"`
	PoolTimeout   time.Duration `mapstructure:"pool_timeout"`
	RatingSetSize int           `mapstructure:"rating_set_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DerivationConfig controls the propagation engine
type DerivationConfig struct {
	OrphanPolicy string `mapstructure:"orphan_policy"` // "orphan" or "cascade"
}

// RemoteConfig controls the circuit breaker around the backing store
type RemoteConfig struct {
	BreakerMaxRequests uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerMinRequests uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailRatio   float64       `mapstructure:"breaker_fail_ratio"`
}

// APIConfig represents HTTP API behaviour
type APIConfig struct {
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second per client
	RateBurst      int           `mapstructure:"rate_burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
