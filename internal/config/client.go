package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ClientConfig configures the oppdash command-line client.
type ClientConfig struct {
	APIURL          string `mapstructure:"API_URL"`
	APIToken        string `mapstructure:"API_TOKEN"`
	Pharmacy        string `mapstructure:"PHARMACY"`
	HistoryPath     string `mapstructure:"HISTORY_PATH"`
	HistoryCapacity int    `mapstructure:"HISTORY_CAPACITY"`
	OutputDir       string `mapstructure:"OUTPUT_DIR"`
}

// LoadClient reads OPPDASH_* environment variables (and an optional .env file).
func LoadClient() (*ClientConfig, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetEnvPrefix("OPPDASH")
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault("API_URL", "http://localhost:8000")
	v.SetDefault("HISTORY_PATH", filepath.Join(home, ".oppdash", "history.db"))
	v.SetDefault("HISTORY_CAPACITY", 50)
	v.SetDefault("OUTPUT_DIR", ".")

	for _, k := range []string{"API_URL", "API_TOKEN", "PHARMACY", "HISTORY_PATH", "HISTORY_CAPACITY", "OUTPUT_DIR"} {
		_ = v.BindEnv(k)
	}
	_ = v.ReadInConfig()

	cfg := &ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal client config: %w", err)
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("OPPDASH_API_URL is required")
	}
	if cfg.HistoryCapacity <= 0 {
		return nil, fmt.Errorf("OPPDASH_HISTORY_CAPACITY must be positive, got %d", cfg.HistoryCapacity)
	}
	return cfg, nil
}
