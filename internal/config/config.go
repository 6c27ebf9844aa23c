package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/report-variables-server/internal/domain"
)

// EnvPrefix prefixes every environment variable read by the Manager, e.g.
// RVS_DATABASE_DRIVER overrides database.driver.
const EnvPrefix = "RVS"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager. An empty configFile
// searches the default locations for config.yaml.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/report-variables-server/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values. Every key needs a default
// for AutomaticEnv to pick up its environment override during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "report_variables")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.sqlite_path", "./data/variables.db")
	v.SetDefault("database.migrations_path", "")

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.rating_set_size", 128)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Derivation defaults
	v.SetDefault("derivation.orphan_policy", "orphan")

	// Remote (circuit breaker) defaults
	v.SetDefault("remote.breaker_max_requests", 3)
	v.SetDefault("remote.breaker_interval", "60s")
	v.SetDefault("remote.breaker_timeout", "30s")
	v.SetDefault("remote.breaker_min_requests", 5)
	v.SetDefault("remote.breaker_fail_ratio", 0.6)

	// API defaults
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.rate_burst", 40)
	v.SetDefault("api.request_timeout", "15s")

	// MCP defaults
	v.SetDefault("mcp.server_name", "report-variables")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration regardless of where it came from.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch strings.ToLower(config.Database.Driver) {
	case "postgres", "postgresql", "pgx":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case "sqlite", "sqlite3":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("invalid database driver: %q", config.Database.Driver)
	}

	if config.Cache.RedisURL != "" {
		if _, err := url.Parse(config.Cache.RedisURL); err != nil {
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	switch strings.ToLower(config.Derivation.OrphanPolicy) {
	case "", "orphan", "cascade":
	default:
		return fmt.Errorf("invalid orphan policy: %s", config.Derivation.OrphanPolicy)
	}

	if r := config.Remote.BreakerFailRatio; r < 0 || r > 1 {
		return fmt.Errorf("breaker fail ratio must be within [0, 1]: %v", r)
	}
	if config.API.RateLimit < 0 {
		return fmt.Errorf("invalid API rate limit: %v", config.API.RateLimit)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the migration URL of the configured database.
func (m *Manager) GetDatabaseURL() string {
	return DatabaseURL(m.config.Database)
}

// DatabaseURL renders db as the URL golang-migrate expects.
func DatabaseURL(db domain.DatabaseConfig) string {
	if strings.HasPrefix(strings.ToLower(db.Driver), "sqlite") {
		return "sqlite://" + db.SQLitePath
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: url.Values{"sslmode": []string{db.SSLMode}}.Encode(),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
