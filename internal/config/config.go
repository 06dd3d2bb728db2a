package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AlertStream    string   `mapstructure:"ALERT_STREAM"`
	AlertStreamMax int64    `mapstructure:"ALERT_STREAM_MAXLEN"`
	WebhookURL     string   `mapstructure:"ALERT_WEBHOOK_URL"`
	WebhookSecret  string   `mapstructure:"ALERT_WEBHOOK_SECRET"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	StoreTimeout   time.Duration `mapstructure:"STORE_TIMEOUT"`

	// Alerting
	CreatinineHigh     float64       `mapstructure:"ALERT_CREATININE_HIGH"`
	SystolicHigh       float64       `mapstructure:"ALERT_SYSTOLIC_HIGH"`
	DiastolicHigh      float64       `mapstructure:"ALERT_DIASTOLIC_HIGH"`
	TrendHistoryLimit  int           `mapstructure:"TREND_HISTORY_LIMIT"`
	AlertWriteAttempts int           `mapstructure:"ALERT_WRITE_ATTEMPTS"`
	AlertWriteBackoff  time.Duration `mapstructure:"ALERT_WRITE_BACKOFF"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "ALERT_STREAM", "ALERT_STREAM_MAXLEN",
	"ALERT_WEBHOOK_URL", "ALERT_WEBHOOK_SECRET",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS",
	"REQUEST_TIMEOUT", "STORE_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"ALERT_CREATININE_HIGH", "ALERT_SYSTOLIC_HIGH", "ALERT_DIASTOLIC_HIGH",
	"TREND_HISTORY_LIMIT", "ALERT_WRITE_ATTEMPTS", "ALERT_WRITE_BACKOFF",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("ALERT_STREAM", "ckd:alerts")
	v.SetDefault("ALERT_STREAM_MAXLEN", 100000)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("ALERT_CREATININE_HIGH", 1.2)
	v.SetDefault("ALERT_SYSTOLIC_HIGH", 140)
	v.SetDefault("ALERT_DIASTOLIC_HIGH", 90)
	v.SetDefault("TREND_HISTORY_LIMIT", 10)
	v.SetDefault("ALERT_WRITE_ATTEMPTS", 3)
	v.SetDefault("ALERT_WRITE_BACKOFF", "50ms")

	// Unmarshal only sees env vars that were bound explicitly.
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, unauthenticated requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.AuthSigningKey != "" {
		key, err := hex.DecodeString(c.AuthSigningKey)
		if err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
		if len(key) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}

	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URL is set")
	}

	if c.CreatinineHigh <= 0 || c.SystolicHigh <= 0 || c.DiastolicHigh <= 0 {
		return fmt.Errorf("alert thresholds must be positive (creatinine=%v systolic=%v diastolic=%v)",
			c.CreatinineHigh, c.SystolicHigh, c.DiastolicHigh)
	}
	if c.TrendHistoryLimit < 1 {
		return fmt.Errorf("TREND_HISTORY_LIMIT must be >= 1, got %d", c.TrendHistoryLimit)
	}
	if c.AlertWriteAttempts < 1 {
		return fmt.Errorf("ALERT_WRITE_ATTEMPTS must be >= 1, got %d", c.AlertWriteAttempts)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	return nil
}

// SigningKey returns the decoded HMAC key, or nil when none is configured.
func (c *Config) SigningKey() []byte {
	if c.AuthSigningKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil
	}
	return key
}
