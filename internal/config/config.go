package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema          string        `mapstructure:"DB_SCHEMA"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AffinityURL       string        `mapstructure:"AFFINITY_URL"`
	AffinityTimeout   time.Duration `mapstructure:"AFFINITY_TIMEOUT"`
	AffinityRPS       float64       `mapstructure:"AFFINITY_RPS"`
	AffinityBurst     int           `mapstructure:"AFFINITY_BURST"`
	AffinityCacheSize int           `mapstructure:"AFFINITY_CACHE_SIZE"`
	UrgencyPolicyFile string        `mapstructure:"URGENCY_POLICY_FILE"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	WebhookTimeout    time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookRetries    int           `mapstructure:"WEBHOOK_RETRIES"`
	WebhookQueueSize  int           `mapstructure:"WEBHOOK_QUEUE_SIZE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"AFFINITY_URL", "AFFINITY_TIMEOUT", "AFFINITY_RPS", "AFFINITY_BURST", "AFFINITY_CACHE_SIZE",
	"URGENCY_POLICY_FILE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"WEBHOOK_TIMEOUT", "WEBHOOK_RETRIES", "WEBHOOK_QUEUE_SIZE",
}

// Load reads configuration from the environment and an optional .env file.
// An empty DATABASE_URL selects in-memory storage.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "carematch")
	v.SetDefault("AUTH_AUDIENCE", "carematch")
	v.SetDefault("AFFINITY_TIMEOUT", "5s")
	v.SetDefault("AFFINITY_RPS", 5)
	v.SetDefault("AFFINITY_BURST", 10)
	v.SetDefault("AFFINITY_CACHE_SIZE", 10000)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "4M")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_RETRIES", 3)
	v.SetDefault("WEBHOOK_QUEUE_SIZE", 1000)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesDatabase reports whether Postgres storage is configured.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key and issuer are required so bearer tokens are enforced.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
		}
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER is required when ENV=%q", c.Env)
		}
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid pool size: DB_MIN_CONNS=%d DB_MAX_CONNS=%d", c.DBMinConns, c.DBMaxConns)
	}
	if c.AffinityRPS <= 0 || c.AffinityBurst < 1 {
		return fmt.Errorf("AFFINITY_RPS must be positive and AFFINITY_BURST at least 1")
	}
	if c.AffinityTimeout <= 0 {
		return fmt.Errorf("AFFINITY_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}
	if c.WebhookTimeout <= 0 || c.WebhookRetries < 0 || c.WebhookQueueSize < 1 {
		return fmt.Errorf("invalid webhook settings: WEBHOOK_TIMEOUT=%s WEBHOOK_RETRIES=%d WEBHOOK_QUEUE_SIZE=%d",
			c.WebhookTimeout, c.WebhookRetries, c.WebhookQueueSize)
	}
	return nil
}
