// Package config loads the CLI configuration from file and environment and
// initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Stripe StripeConfig `yaml:"stripe" mapstructure:"stripe"`
	Recon  ReconConfig  `yaml:"recon" mapstructure:"recon"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// StripeConfig holds billing provider settings.
type StripeConfig struct {
	Key                 string  `yaml:"key" mapstructure:"key"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RequestTimeoutSecs  int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxRetryAttempts    int     `yaml:"max_retry_attempts" mapstructure:"max_retry_attempts"`
	InitialBackoffMilli int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// ReconConfig configures the reconciliation driver.
type ReconConfig struct {
	// Concurrency bounds the per-subscription worker pool; 1 = sequential.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// PremiumThresholdMinorUnits separates the standard and premium tiers.
	PremiumThresholdMinorUnits int64 `yaml:"premium_threshold_minor_units" mapstructure:"premium_threshold_minor_units"`
	// ConsumerPriceIDs and PromoterPriceIDs identify products that are
	// never matched to restaurant entities.
	ConsumerPriceIDs []string `yaml:"consumer_price_ids" mapstructure:"consumer_price_ids"`
	PromoterPriceIDs []string `yaml:"promoter_price_ids" mapstructure:"promoter_price_ids"`
	// PolicyPath optionally points at a YAML confidence policy table.
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// ServerConfig configures the resolve HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "billing.db")
	v.SetDefault("stripe.requests_per_second", 10)
	v.SetDefault("stripe.request_timeout_secs", 60)
	v.SetDefault("stripe.max_retry_attempts", 4)
	v.SetDefault("stripe.initial_backoff_ms", 1000)
	v.SetDefault("recon.concurrency", 1)
	v.SetDefault("recon.premium_threshold_minor_units", 19900)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode needs before it runs. Modes map
// to the CLI commands: reconcile, resolve, unmatched, migrate, serve.
func (c *Config) Validate(mode string) error {
	var problems []string

	storeProblems := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required for the sqlite driver")
			}
		default:
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "reconcile":
		storeProblems()
		if c.Stripe.Key == "" {
			problems = append(problems, "stripe.key is required")
		}
		if c.Recon.Concurrency < 1 || c.Recon.Concurrency > 32 {
			problems = append(problems, "recon.concurrency must be between 1 and 32")
		}
	case "resolve", "unmatched", "migrate":
		storeProblems()
	case "serve":
		storeProblems()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
