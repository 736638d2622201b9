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
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	// DBStatementTimeout bounds every query; zero leaves the server default.
	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	DefaultPharmacy string   `mapstructure:"DEFAULT_PHARMACY"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	DemoAccount     string   `mapstructure:"DEMO_ACCOUNT"`

	DailyFaxLimit              int `mapstructure:"DAILY_FAX_LIMIT"`
	PrescriberWarnThreshold    int `mapstructure:"PRESCRIBER_WARN_THRESHOLD"`
	PrescriberBlockThreshold   int `mapstructure:"PRESCRIBER_BLOCK_THRESHOLD"`
	PrescriberVolumeWindowDays int `mapstructure:"PRESCRIBER_VOLUME_WINDOW_DAYS"`

	FaxGatewayURL   string `mapstructure:"FAX_GATEWAY_URL"`
	FaxGatewayToken string `mapstructure:"FAX_GATEWAY_TOKEN"`

	FaxArchiveDriver      string `mapstructure:"FAX_ARCHIVE_DRIVER"`
	FaxArchiveS3Bucket    string `mapstructure:"FAX_ARCHIVE_S3_BUCKET"`
	FaxArchiveS3Region    string `mapstructure:"FAX_ARCHIVE_S3_REGION"`
	FaxArchiveS3Endpoint  string `mapstructure:"FAX_ARCHIVE_S3_ENDPOINT"`
	FaxArchiveS3PathStyle bool   `mapstructure:"FAX_ARCHIVE_S3_PATH_STYLE"`
}

var serverKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_STATEMENT_TIMEOUT", "DEFAULT_PHARMACY",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"DEMO_ACCOUNT", "DAILY_FAX_LIMIT", "PRESCRIBER_WARN_THRESHOLD",
	"PRESCRIBER_BLOCK_THRESHOLD", "PRESCRIBER_VOLUME_WINDOW_DAYS",
	"FAX_GATEWAY_URL", "FAX_GATEWAY_TOKEN", "FAX_ARCHIVE_DRIVER",
	"FAX_ARCHIVE_S3_BUCKET", "FAX_ARCHIVE_S3_REGION", "FAX_ARCHIVE_S3_ENDPOINT",
	"FAX_ARCHIVE_S3_PATH_STYLE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "15s")
	v.SetDefault("DEFAULT_PHARMACY", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DAILY_FAX_LIMIT", 50)
	v.SetDefault("PRESCRIBER_WARN_THRESHOLD", 25)
	v.SetDefault("PRESCRIBER_BLOCK_THRESHOLD", 0) // 0 means no hard block
	v.SetDefault("PRESCRIBER_VOLUME_WINDOW_DAYS", 30)
	v.SetDefault("FAX_ARCHIVE_DRIVER", "none")
	v.SetDefault("FAX_ARCHIVE_S3_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range serverKeys {
		_ = v.BindEnv(k)
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
		log.Println("WARNING: every request is treated as the dev-user with the admin role.")
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

// BlockThreshold returns the configured hard-block threshold, or nil when
// blocking is disabled.
func (c *Config) BlockThreshold() *int {
	if c.PrescriberBlockThreshold <= 0 {
		return nil
	}
	n := c.PrescriberBlockThreshold
	return &n
}

// Validate checks that the configuration is safe to run. Outside development
// either an issuer or a signing key must be configured, and the volume
// thresholds must be ordered.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" {
		if _, err := hex.DecodeString(c.AuthSigningKey); err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
	}
	if c.DailyFaxLimit <= 0 {
		return fmt.Errorf("DAILY_FAX_LIMIT must be positive, got %d", c.DailyFaxLimit)
	}
	if c.PrescriberWarnThreshold < 0 {
		return fmt.Errorf("PRESCRIBER_WARN_THRESHOLD must not be negative")
	}
	if b := c.BlockThreshold(); b != nil && c.PrescriberWarnThreshold > 0 && *b < c.PrescriberWarnThreshold {
		return fmt.Errorf("PRESCRIBER_BLOCK_THRESHOLD (%d) must not be below PRESCRIBER_WARN_THRESHOLD (%d)",
			*b, c.PrescriberWarnThreshold)
	}
	switch c.FaxArchiveDriver {
	case "", "none", "memory":
	case "s3":
		if c.FaxArchiveS3Bucket == "" {
			return fmt.Errorf("FAX_ARCHIVE_S3_BUCKET is required when FAX_ARCHIVE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("FAX_ARCHIVE_DRIVER must be \"none\", \"memory\", or \"s3\", got %q", c.FaxArchiveDriver)
	}
	if c.IsProduction() && c.FaxGatewayURL == "" {
		return fmt.Errorf("FAX_GATEWAY_URL is required in production")
	}
	return nil
}
