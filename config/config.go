// Package config loads the service configuration from a YAML file and
// LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LedgerConfig locates the BoltDB ledger file.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// DirectoryConfig locates the SQLite account directory.
type DirectoryConfig struct {
	Path    string `mapstructure:"path"`
	LogMode bool   `mapstructure:"log_mode"`
}

// StripeConfig holds the processor credentials and call timeout.
type StripeConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

// IngestConfig controls how charges are ingested.
type IngestConfig struct {
	// Numbering is "counter" or "legacy".
	Numbering string `mapstructure:"numbering"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("ledger.path", "data/ledger.db")
	v.SetDefault("directory.path", "data/directory.db")
	v.SetDefault("directory.log_mode", false)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.call_timeout", 10*time.Second)
	v.SetDefault("ingest.numbering", "counter")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads configuration from path. An empty path looks for config.yaml in
// the working directory and falls back to defaults when there is none.
// Environment variables override file values, e.g. LEDGER_STRIPE_SECRET_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}
