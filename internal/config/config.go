package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
}

// NATSConfig holds NATS JetStream configuration for the event mirror
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string   `mapstructure:"jwt_public_key"`
	APIKeys      []string `mapstructure:"api_keys"`
}

// RelayConfig holds relay-core tunables shared by ingestion and the registry
type RelayConfig struct {
	// ConnectionQueueSize bounds each forwarding session's outbound and
	// acknowledgement queues
	ConnectionQueueSize int `mapstructure:"connection_queue_size"`
	// PlaygroundSessionTTL is how long an anonymous trial session stays active
	PlaygroundSessionTTL time.Duration `mapstructure:"playground_session_ttl"`
}

// DeliveryTimeoutSweepConfig holds configuration for the delivery timeout sweep
type DeliveryTimeoutSweepConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	StuckAfter     time.Duration `mapstructure:"stuck_after"`
	BatchSize      int           `mapstructure:"batch_size"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
}

// RateLimitCleanupSweepConfig holds configuration for the rate limit cleanup sweep
type RateLimitCleanupSweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	KeepFor  time.Duration `mapstructure:"keep_for"`
}

// PlaygroundCleanupSweepConfig holds configuration for the playground cleanup sweep
type PlaygroundCleanupSweepConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	PurgeAfter time.Duration `mapstructure:"purge_after"`
}

// EventExpirySweepConfig holds configuration for the event expiry sweep
type EventExpirySweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SessionReaperSweepConfig holds configuration for the session reaper sweep
type SessionReaperSweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	IdleAfter time.Duration `mapstructure:"idle_after"`
	StopAfter time.Duration `mapstructure:"stop_after"`
}

// SweepConfig groups the configuration of every reconciliation loop
type SweepConfig struct {
	DeliveryTimeout   DeliveryTimeoutSweepConfig   `mapstructure:"delivery_timeout"`
	RateLimitCleanup  RateLimitCleanupSweepConfig  `mapstructure:"rate_limit_cleanup"`
	PlaygroundCleanup PlaygroundCleanupSweepConfig `mapstructure:"playground_cleanup"`
	EventExpiry       EventExpirySweepConfig       `mapstructure:"event_expiry"`
	SessionReaper     SessionReaperSweepConfig     `mapstructure:"session_reaper"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig    `mapstructure:",squash"`
	Server        ServerConfig   `mapstructure:"server"`
	Database      DatabaseConfig `mapstructure:"database"`
	NATS          NATSConfig     `mapstructure:"nats"`
	Auth          AuthConfig     `mapstructure:"auth"`
	Relay         RelayConfig    `mapstructure:"relay"`
	Sweep         SweepConfig    `mapstructure:"sweep"`
	BlocklistPath string         `mapstructure:"blocklist_path"`
}

// SweeperConfig holds configuration for the standalone sweeper process
type SweeperConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Sweep      SweepConfig    `mapstructure:"sweep"`
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setSweepDefaults(v)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "RELAY_EVENTS")
	v.SetDefault("nats.connection_name", "hookline-api")
	v.SetDefault("relay.connection_queue_size", 64)
	v.SetDefault("relay.playground_session_ttl", "2h")

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadSweeperConfig loads configuration for the sweeper process
func LoadSweeperConfig(configFile string, envPath string) (*SweeperConfig, error) {
	v := configureViper("sweeper", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setSweepDefaults(v)

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var config SweeperConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "10m")
}

func setSweepDefaults(v *viper.Viper) {
	v.SetDefault("sweep.delivery_timeout.interval", "30s")
	v.SetDefault("sweep.delivery_timeout.stuck_after", "60s")
	v.SetDefault("sweep.delivery_timeout.batch_size", 50)
	v.SetDefault("sweep.delivery_timeout.worker_pool_size", 10)
	v.SetDefault("sweep.rate_limit_cleanup.interval", "1h")
	v.SetDefault("sweep.rate_limit_cleanup.keep_for", "48h")
	v.SetDefault("sweep.playground_cleanup.interval", "10m")
	v.SetDefault("sweep.playground_cleanup.purge_after", "24h")
	v.SetDefault("sweep.event_expiry.interval", "1h")
	v.SetDefault("sweep.session_reaper.interval", "30s")
	v.SetDefault("sweep.session_reaper.idle_after", "90s")
	v.SetDefault("sweep.session_reaper.stop_after", "5m")
}

// readInConfig reads the config file, tolerating a missing file so pure
// environment-variable deployments work
func readInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/sweeper/, cmd/api/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("HOOKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// loadEnv loads .env files from the given path, later files overriding earlier ones
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// bindAllEnvVars explicitly binds every known key so AutomaticEnv picks up
// variables that have no config-file counterpart
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"blocklist_path",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.api_keys",
		// Relay
		"relay.connection_queue_size",
		"relay.playground_session_ttl",
		// Sweeps
		"sweep.delivery_timeout.interval",
		"sweep.delivery_timeout.stuck_after",
		"sweep.delivery_timeout.batch_size",
		"sweep.delivery_timeout.worker_pool_size",
		"sweep.rate_limit_cleanup.interval",
		"sweep.rate_limit_cleanup.keep_for",
		"sweep.playground_cleanup.interval",
		"sweep.playground_cleanup.purge_after",
		"sweep.event_expiry.interval",
		"sweep.session_reaper.interval",
		"sweep.session_reaper.idle_after",
		"sweep.session_reaper.stop_after",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
// so relative config paths resolve the same from any binary
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
