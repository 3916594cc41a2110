package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store driver names accepted by PARLEY_STORE.
const (
	StoreSQLite  = "sqlite"
	StoreSurreal = "surreal"
)

// Presence scopes accepted by PARLEY_PRESENCE_SCOPE.
const (
	PresenceScopeGlobal = "global"
	PresenceScopePeers  = "peers"
)

// Provider exposes configuration values to components that should not depend on
// the concrete Config struct.
type Provider interface {
	GetHTTPAddr() string
	GetStoreDriver() string
	GetSQLitePath() string
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetStoreTimeout() time.Duration
	GetJWTSecret() string
	GetTokenTTL() time.Duration
	GetMaxMessageLength() int
	GetSendBuffer() int
	GetInboundBuffer() int
	GetEventsPerSecond() float64
	GetEventBurst() int
	GetPresenceScope() string
	GetOfflineDebounce() time.Duration
	GetAllowedOrigins() []string
	GetTracingEnabled() bool
	GetZipkinURL() string
	GetLogFormat() string
	GetLogLevel() string
}

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	StoreDriver  string        `envconfig:"STORE" default:"sqlite"`
	SQLitePath   string        `envconfig:"SQLITE_PATH" default:"data/parley.db"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	DBUrl  string `envconfig:"SURREAL_URL"`
	DBNs   string `envconfig:"SURREAL_NS" default:"parley"`
	DBDb   string `envconfig:"SURREAL_DB" default:"chat"`
	DBUser string `envconfig:"SURREAL_USER"`
	DBPass string `envconfig:"SURREAL_PASS"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	MaxMessageLength int     `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`
	SendBuffer       int     `envconfig:"SEND_BUFFER" default:"256"`
	InboundBuffer    int     `envconfig:"INBOUND_BUFFER" default:"64"`
	EventsPerSecond  float64 `envconfig:"EVENTS_PER_SECOND" default:"20"`
	EventBurst       int     `envconfig:"EVENT_BURST" default:"40"`

	PresenceScope   string        `envconfig:"PRESENCE_SCOPE" default:"global"`
	OfflineDebounce time.Duration `envconfig:"OFFLINE_DEBOUNCE" default:"0s"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
	ZipkinURL      string `envconfig:"ZIPKIN_URL" default:"http://localhost:9411/api/v2/spans"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// New loads configuration from a .env file (when present) and the environment.
// Every variable is read with the PARLEY_ prefix, e.g. PARLEY_JWT_SECRET.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromEnv()
}

// FromEnv parses the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("parley", &cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.PresenceScope = strings.ToLower(cfg.PresenceScope)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that required fields are present and values are in range.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("PARLEY_JWT_SECRET is required")
	}

	switch c.StoreDriver {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("PARLEY_SQLITE_PATH is required for the sqlite store")
		}
	case StoreSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			return fmt.Errorf("PARLEY_SURREAL_URL, PARLEY_SURREAL_NS and PARLEY_SURREAL_DB are required for the surreal store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	switch c.PresenceScope {
	case PresenceScopeGlobal, PresenceScopePeers:
	default:
		return fmt.Errorf("unknown presence scope %q", c.PresenceScope)
	}

	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("PARLEY_MAX_MESSAGE_LENGTH must be positive, got %d", c.MaxMessageLength)
	}
	if c.SendBuffer <= 0 || c.InboundBuffer <= 0 {
		return fmt.Errorf("connection buffers must be positive")
	}
	if c.EventsPerSecond <= 0 || c.EventBurst <= 0 {
		return fmt.Errorf("event rate limit must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("PARLEY_STORE_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) GetHTTPAddr() string               { return c.HTTPAddr }
func (c *Config) GetStoreDriver() string            { return c.StoreDriver }
func (c *Config) GetSQLitePath() string             { return c.SQLitePath }
func (c *Config) GetDBURL() string                  { return c.DBUrl }
func (c *Config) GetDBNs() string                   { return c.DBNs }
func (c *Config) GetDBDb() string                   { return c.DBDb }
func (c *Config) GetDBUser() string                 { return c.DBUser }
func (c *Config) GetDBPass() string                 { return c.DBPass }
func (c *Config) GetStoreTimeout() time.Duration    { return c.StoreTimeout }
func (c *Config) GetJWTSecret() string              { return c.JWTSecret }
func (c *Config) GetTokenTTL() time.Duration        { return c.TokenTTL }
func (c *Config) GetMaxMessageLength() int          { return c.MaxMessageLength }
func (c *Config) GetSendBuffer() int                { return c.SendBuffer }
func (c *Config) GetInboundBuffer() int             { return c.InboundBuffer }
func (c *Config) GetEventsPerSecond() float64       { return c.EventsPerSecond }
func (c *Config) GetEventBurst() int                { return c.EventBurst }
func (c *Config) GetPresenceScope() string          { return c.PresenceScope }
func (c *Config) GetOfflineDebounce() time.Duration { return c.OfflineDebounce }
func (c *Config) GetAllowedOrigins() []string       { return c.AllowedOrigins }
func (c *Config) GetTracingEnabled() bool           { return c.TracingEnabled }
func (c *Config) GetZipkinURL() string              { return c.ZipkinURL }
func (c *Config) GetLogFormat() string              { return c.LogFormat }
func (c *Config) GetLogLevel() string               { return c.LogLevel }
