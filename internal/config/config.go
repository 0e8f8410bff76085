package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const devEncryptionKey = "dev-license-key-change-in-production"

// Config is read from the environment, optionally seeded from a .env file.
// Nested fields are looked up by their short tag (PORT, DB_HOST, ...).
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	License   LicenseConfig
	Integrity IntegrityConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	Env               string        `envconfig:"ENV" default:"development"`
	TrustProxyHeaders bool          `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"couch"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5984"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASSWORD" default:"password"`
	Name     string `envconfig:"DB_NAME" default:"licenses"`
	DSN      string `envconfig:"DB_DSN"`
	LogSQL   bool   `envconfig:"DB_LOG_SQL" default:"false"`
}

type LicenseConfig struct {
	EncryptionKey     string        `envconfig:"LICENSE_ENCRYPTION_KEY"`
	GracePeriod       time.Duration `envconfig:"LICENSE_GRACE_PERIOD" default:"168h"`
	CheckinTimeout    time.Duration `envconfig:"LICENSE_CHECKIN_TIMEOUT" default:"168h"`
	ExpiryWarningDays int           `envconfig:"LICENSE_EXPIRY_WARNING_DAYS" default:"30"`
}

type IntegrityConfig struct {
	Enabled        bool          `envconfig:"INTEGRITY_ENABLED" default:"true"`
	Mode           string        `envconfig:"LICENSE_FINGERPRINT_MODE" default:"enforce"`
	FingerprintKey string        `envconfig:"LICENSE_FINGERPRINT_KEY" default:"ampos-license-fingerprint"`
	Files          []string      `envconfig:"INTEGRITY_FILES"`
	Interval       time.Duration `envconfig:"INTEGRITY_INTERVAL" default:"5m"`
}

type RateLimitConfig struct {
	Enabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Requests int64         `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	Period   time.Duration `envconfig:"RATE_LIMIT_PERIOD" default:"60s"`
	Prefix   string        `envconfig:"RATE_LIMIT_PREFIX" default:"license:ratelimit:"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type CORSConfig struct {
	AllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	AllowedMethods string `envconfig:"CORS_ALLOWED_METHODS" default:"POST, GET, OPTIONS"`
	AllowedHeaders string `envconfig:"CORS_ALLOWED_HEADERS" default:"Content-Type"`
}

type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	JSON  bool   `envconfig:"LOG_JSON" default:"false"`
}

func Load() (*Config, error) {
	godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// Validate fills development-only defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.License.EncryptionKey == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("LICENSE_ENCRYPTION_KEY is required outside development")
		}
		c.License.EncryptionKey = devEncryptionKey
	}

	switch c.Integrity.Mode {
	case "enforce", "allow-rebaseline":
	default:
		return fmt.Errorf("invalid LICENSE_FINGERPRINT_MODE %q: want enforce or allow-rebaseline", c.Integrity.Mode)
	}

	switch c.Database.Driver {
	case "couch":
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN is required for DB_DRIVER=%s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want couch, postgres or sqlite", c.Database.Driver)
	}

	if c.RateLimit.Enabled && c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.License.CheckinTimeout < 0 {
		return fmt.Errorf("LICENSE_CHECKIN_TIMEOUT must not be negative")
	}

	return nil
}

// CouchURL is the kivik connection string for DB_DRIVER=couch.
func (c *Config) CouchURL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
	)
}
