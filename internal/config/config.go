// Package config loads application configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store and bridge drivers.
const (
	StoreSurreal  = "surreal"
	StorePostgres = "postgres"

	BridgeDirect = "direct"
	BridgeLocal  = "local"
	BridgeRedis  = "redis"
	BridgeNATS   = "nats"
)

// Provider is the read-only view of configuration consumed by the database layer.
type Provider interface {
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	ServerAddr string `mapstructure:"SERVER_ADDR"`
	AppBaseURL string `mapstructure:"APP_BASE_URL"`
	LogFormat  string `mapstructure:"LOG_FORMAT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	StoreDriver      string        `mapstructure:"STORE_DRIVER"`
	DBUrl            string        `mapstructure:"SURREAL_URL"`
	DBUser           string        `mapstructure:"SURREAL_USER"`
	DBPass           string        `mapstructure:"SURREAL_PASS"`
	DBNs             string        `mapstructure:"SURREAL_NS"`
	DBDb             string        `mapstructure:"SURREAL_DB"`
	DBQueryTimeout   time.Duration `mapstructure:"DB_QUERY_TIMEOUT"`
	DBExecuteTimeout time.Duration `mapstructure:"DB_EXECUTE_TIMEOUT"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`

	BridgeDriver  string `mapstructure:"BRIDGE_DRIVER"`
	BridgeChannel string `mapstructure:"BRIDGE_CHANNEL"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	NATSURL       string `mapstructure:"NATS_URL"`

	// JWTSecret enables HS256 verification. JWTPublicKey (inline PEM or path)
	// enables RS256/ES256 and takes precedence when both are set.
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	JWTWatchKey  bool   `mapstructure:"JWT_WATCH_KEY"`

	HistoryLimit            int           `mapstructure:"HISTORY_LIMIT"`
	OfflineDebounce         time.Duration `mapstructure:"OFFLINE_DEBOUNCE"`
	RevocationPurgeInterval time.Duration `mapstructure:"REVOCATION_PURGE_INTERVAL"`
	NotificationBodyLimit   int           `mapstructure:"NOTIFICATION_BODY_LIMIT"`

	WSAllowedOrigins string  `mapstructure:"WS_ALLOWED_ORIGINS"`
	WSMessageRate    float64 `mapstructure:"WS_MESSAGE_RATE"`
	WSMessageBurst   int     `mapstructure:"WS_MESSAGE_BURST"`

	TracingEnabled     bool   `mapstructure:"TRACING_ENABLED"`
	TracingServiceName string `mapstructure:"TRACING_SERVICE_NAME"`
	TracingZipkinURL   string `mapstructure:"TRACING_ZIPKIN_URL"`
}

var keys = map[string]any{
	"SERVER_ADDR":               ":8080",
	"APP_BASE_URL":              "http://localhost:8080",
	"LOG_FORMAT":                "text",
	"LOG_LEVEL":                 "info",
	"STORE_DRIVER":              StoreSurreal,
	"SURREAL_URL":               "",
	"SURREAL_USER":              "",
	"SURREAL_PASS":              "",
	"SURREAL_NS":                "",
	"SURREAL_DB":                "",
	"DB_QUERY_TIMEOUT":          "5s",
	"DB_EXECUTE_TIMEOUT":        "10s",
	"DATABASE_URL":              "",
	"BRIDGE_DRIVER":             BridgeDirect,
	"BRIDGE_CHANNEL":            "notification-created",
	"REDIS_URL":                 "redis://localhost:6379/0",
	"NATS_URL":                  "nats://localhost:4222",
	"JWT_SECRET":                "",
	"JWT_PUBLIC_KEY":            "",
	"JWT_ISSUER":                "",
	"JWT_AUDIENCE":              "",
	"JWT_WATCH_KEY":             false,
	"HISTORY_LIMIT":             50,
	"OFFLINE_DEBOUNCE":          "0s",
	"REVOCATION_PURGE_INTERVAL": "1h",
	"NOTIFICATION_BODY_LIMIT":   140,
	"WS_ALLOWED_ORIGINS":        "",
	"WS_MESSAGE_RATE":           5.0,
	"WS_MESSAGE_BURST":          10,
	"TRACING_ENABLED":           false,
	"TRACING_SERVICE_NAME":      "roomcast",
	"TRACING_ZIPKIN_URL":        "http://localhost:9411/api/v2/spans",
}

// Load reads .env (if present) and builds a validated Config from the environment.
// Environment variables win over .env values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	for key, def := range keys {
		v.SetDefault(key, def)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New loads configuration and exits the process when it is invalid.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("config: SERVER_ADDR must be set")
	}

	switch c.StoreDriver {
	case StoreSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			return errors.New("config: SURREAL_URL, SURREAL_NS and SURREAL_DB must be set for the surreal store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.BridgeDriver {
	case BridgeDirect, BridgeLocal:
	case BridgeRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set for the redis bridge")
		}
	case BridgeNATS:
		if c.NATSURL == "" {
			return errors.New("config: NATS_URL must be set for the nats bridge")
		}
	default:
		return fmt.Errorf("config: unknown BRIDGE_DRIVER %q", c.BridgeDriver)
	}

	if c.JWTSecret == "" && c.JWTPublicKey == "" {
		return errors.New("config: one of JWT_SECRET or JWT_PUBLIC_KEY must be set")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("config: HISTORY_LIMIT must be positive")
	}
	if c.WSMessageRate <= 0 || c.WSMessageBurst <= 0 {
		return errors.New("config: WS_MESSAGE_RATE and WS_MESSAGE_BURST must be positive")
	}
	return nil
}

// AllowedOrigins splits WS_ALLOWED_ORIGINS into host patterns.
func (c *Config) AllowedOrigins() []string {
	if c.WSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.WSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetDBURL returns the SurrealDB endpoint.
func (c *Config) GetDBURL() string { return c.DBUrl }

// GetDBNs returns the SurrealDB namespace.
func (c *Config) GetDBNs() string { return c.DBNs }

// GetDBDb returns the SurrealDB database name.
func (c *Config) GetDBDb() string { return c.DBDb }

// GetDBUser returns the SurrealDB user.
func (c *Config) GetDBUser() string { return c.DBUser }

// GetDBPass returns the SurrealDB password.
func (c *Config) GetDBPass() string { return c.DBPass }

// GetDBQueryTimeout returns the default timeout for reads.
func (c *Config) GetDBQueryTimeout() time.Duration {
	if c.DBQueryTimeout <= 0 {
		return 5 * time.Second
	}
	return c.DBQueryTimeout
}

// GetDBExecuteTimeout returns the default timeout for writes.
func (c *Config) GetDBExecuteTimeout() time.Duration {
	if c.DBExecuteTimeout <= 0 {
		return 10 * time.Second
	}
	return c.DBExecuteTimeout
}
