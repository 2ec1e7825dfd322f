// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the SafeChat service.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/safechat/internal/membership"
	"github.com/Tyrowin/safechat/internal/protocol"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls
// and the room capacity policy.
type Config struct {
	Port                 string        `env:"SERVER_PORT,default=:8080"`
	AllowedOriginsRaw    string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize       int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst       int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefillSecs  int           `env:"RATE_LIMIT_REFILL_INTERVAL,default=1"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	DatabasePath         string        `env:"DATABASE_PATH,default=safechat.db"`
	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	DefaultTopic         string        `env:"DEFAULT_TOPIC,default=/topic/public"`
	PublicTopicCapacity  int           `env:"PUBLIC_TOPIC_CAPACITY,default=2"`
	PrivateTopicPattern  string        `env:"PRIVATE_TOPIC_PATTERN,default=^/topic/private\\."`
	PrivateTopicCapacity int           `env:"PRIVATE_TOPIC_CAPACITY,default=0"`
	LeaveScope           string        `env:"LEAVE_SCOPE,default=public"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	// Derived by sanitize.
	AllowedOrigins []string
	RateLimit      RateLimitConfig
}

// NewConfig creates a Config instance populated with default values for all
// settings. The JWT secret is left empty and must be set by the caller.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	cfg := Config{
		Port:                 ":8080",
		AllowedOriginsRaw:    "http://localhost:8080",
		MaxMessageSize:       4096,
		RateLimitBurst:       5,
		RateLimitRefillSecs:  1,
		LogLevel:             "INFO",
		DatabasePath:         "safechat.db",
		AuthTokenDuration:    24 * time.Hour,
		DefaultTopic:         protocol.DefaultTopic,
		PublicTopicCapacity:  membership.DefaultCapacity,
		PrivateTopicPattern:  membership.DefaultPrivatePattern,
		PrivateTopicCapacity: membership.Unbounded,
		LeaveScope:           string(protocol.LeaveScopePublic),
		ShutdownTimeout:      10 * time.Second,
	}
	cfg.sanitize()
	return cfg
}

// LoadConfig reads a .env file if present, then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// sanitize replaces out-of-range values with defaults and derives the
// structured fields from their raw form.
func (cfg *Config) sanitize() {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}

	if cfg.RateLimitRefillSecs <= 0 {
		cfg.RateLimitRefillSecs = 1
	}

	if cfg.AuthTokenDuration <= 0 {
		cfg.AuthTokenDuration = 24 * time.Hour
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.DefaultTopic == "" {
		cfg.DefaultTopic = protocol.DefaultTopic
	}

	if cfg.LeaveScope == "" {
		cfg.LeaveScope = string(protocol.LeaveScopePublic)
	}

	cfg.RateLimit = RateLimitConfig{
		Burst:          cfg.RateLimitBurst,
		RefillInterval: time.Duration(cfg.RateLimitRefillSecs) * time.Second,
	}
	if cfg.AllowedOriginsRaw != "" {
		cfg.AllowedOrigins = parseOrigins(cfg.AllowedOriginsRaw)
	}
}

// Validate reports settings that cannot be defaulted.
func (cfg *Config) Validate() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("config error: JWT_SECRET must be set")
	}
	switch protocol.LeaveScope(cfg.LeaveScope) {
	case protocol.LeaveScopePublic, protocol.LeaveScopeVacated:
	default:
		return fmt.Errorf("config error: LEAVE_SCOPE must be %q or %q, got %q",
			protocol.LeaveScopePublic, protocol.LeaveScopeVacated, cfg.LeaveScope)
	}
	if _, err := cfg.Policy(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// Policy builds the room capacity policy from the configuration.
func (cfg *Config) Policy() (membership.Policy, error) {
	return membership.NewPolicy(cfg.PublicTopicCapacity, cfg.PrivateTopicPattern, cfg.PrivateTopicCapacity)
}

// HandlerOptions returns the protocol options derived from the configuration.
func (cfg *Config) HandlerOptions() protocol.Options {
	return protocol.Options{
		DefaultTopic: cfg.DefaultTopic,
		LeaveScope:   protocol.LeaveScope(cfg.LeaveScope),
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
