package config

import (
	"fmt"
	"strings"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements domain.ConfigManager using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/clinterm-mapper/")

	viper.SetEnvPrefix("CLINTERM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables.
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.tls_enabled", false)

	// Database defaults (Rules Engine store)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "clinterm_rules")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// Vocabulary / rules store paths
	viper.SetDefault("data_dir", "./data/vocabulary")
	viper.SetDefault("rules_db", "./data/rules.db")

	// Cache defaults
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.hot_capacity", 10000)
	viper.SetDefault("cache.ttl_hot_s", "1h")
	viper.SetDefault("cache.ttl_warm_s", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")

	// Fuzzy matcher defaults
	viper.SetDefault("fuzzy.enabled_algorithms", []string{
		string(domain.AlgoLevenshtein), string(domain.AlgoTokenSort), string(domain.AlgoTokenSet),
		string(domain.AlgoJaroWinkler), string(domain.AlgoPhonetic), string(domain.AlgoCosine),
	})
	viper.SetDefault("fuzzy.default_threshold", 0.7)
	viper.SetDefault("fuzzy.batch_threshold", 32)

	// Context analyzer defaults
	viper.SetDefault("context.enabled", true)

	// Worker pool defaults
	viper.SetDefault("workers.max", 0) // 0 => cpu*2+4 resolved at startup; a positive value caps that
	viper.SetDefault("workers.queue_capacity", 256)
	viper.SetDefault("workers.term_deadline", "1s")
	viper.SetDefault("workers.batch_deadline", "30s")

	// MCP transport defaults
	viper.SetDefault("mcp.transport_type", "stdio")
	viper.SetDefault("mcp.http_host", "localhost")
	viper.SetDefault("mcp.http_port", 8090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config { return m.config }

// GetDatabaseConfig returns database configuration.
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig { return &m.config.Database }

// GetCacheConfig returns cache configuration.
func (m *Manager) GetCacheConfig() *domain.CacheConfig { return &m.config.Cache }

// GetFuzzyConfig returns fuzzy matcher configuration.
func (m *Manager) GetFuzzyConfig() *domain.FuzzyConfig { return &m.config.Fuzzy }

// GetWorkersConfig returns the parallel executor's worker pool configuration.
func (m *Manager) GetWorkersConfig() *domain.WorkersConfig { return &m.config.Workers }

// Reload reloads the configuration.
func (m *Manager) Reload() error { return m.loadConfig() }

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if config.RulesDB == "" {
		return fmt.Errorf("rules_db is required")
	}

	if config.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if config.Cache.HotCapacity <= 0 {
		return fmt.Errorf("cache.hot_capacity must be positive")
	}

	if config.Fuzzy.DefaultThreshold < 0 || config.Fuzzy.DefaultThreshold > 1 {
		return fmt.Errorf("fuzzy.default_threshold must be in [0,1]")
	}
	for _, alg := range config.Fuzzy.EnabledAlgorithms {
		if !alg.IsValid() {
			return fmt.Errorf("invalid fuzzy algorithm: %s", alg)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string.
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string.
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode.
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode.
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
