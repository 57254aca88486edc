// Package config loads and validates the retail data platform's
// configuration from a YAML file plus environment overrides, the way
// stormdb's internal/config loads its own benchmarking config.
package config

import (
	"fmt"
	"strings"

	"github.com/retaildw/platform/pkg/types"
	"github.com/spf13/viper"
)

// defaults mirrors the zero-config experience of `retaildw setup`/`test`
// against a local database before any YAML file is written.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.dbname", "retaildw")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "retail_dw")
	v.SetDefault("database.pool_max_conns", 10)
	v.SetDefault("database.pool_min_conns", 2)
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("etl.batch_size", 1000)
	v.SetDefault("etl.max_retries", 3)
	v.SetDefault("etl.retry_base_delay", "1s")
	v.SetDefault("etl.checkpoint_interval", 5000)
	v.SetDefault("etl.quality_sample_size", 1000)
	v.SetDefault("etl.duplicate_key_columns", []string{"InvoiceNo", "StockCode"})
	v.SetDefault("etl.dimension_cache_size", 10000)
	v.SetDefault("etl.csv_delimiter", ",")
	v.SetDefault("etl.csv_chunk_size", 1000)

	v.SetDefault("quality.anomaly_drop_threshold", 10.0)
	v.SetDefault("quality.critical_score", 70.0)
	v.SetDefault("quality.warning_score", 90.0)

	v.SetDefault("scheduler.state_path", "scheduler_jobs.json")
	v.SetDefault("scheduler.poll_interval", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Load reads configFile (if non-empty) and environment variables into a
// types.Config, applying defaults first and validating the result.
func Load(configFile string) (*types.Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnv wires the well-known environment variables onto their config
// keys.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.dbname", "DB_NAME")
	_ = v.BindEnv("database.username", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
}

func validateConfig(cfg *types.Config) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1-65535, got: %d", cfg.Database.Port)
	}
	if cfg.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if cfg.Database.SSLMode != "" && !validSSLModes[cfg.Database.SSLMode] {
		return fmt.Errorf("invalid sslmode: %s (valid: disable, require, verify-ca, verify-full)", cfg.Database.SSLMode)
	}

	if cfg.ETL.BatchSize <= 0 {
		return fmt.Errorf("etl.batch_size must be positive, got: %d", cfg.ETL.BatchSize)
	}
	if cfg.ETL.MaxRetries < 0 {
		return fmt.Errorf("etl.max_retries must be non-negative, got: %d", cfg.ETL.MaxRetries)
	}
	if cfg.ETL.DimensionCacheSize <= 0 {
		return fmt.Errorf("etl.dimension_cache_size must be positive, got: %d", cfg.ETL.DimensionCacheSize)
	}

	if cfg.Quality.CriticalScore <= 0 || cfg.Quality.CriticalScore > 100 {
		return fmt.Errorf("quality.critical_score must be in (0,100], got: %f", cfg.Quality.CriticalScore)
	}
	if cfg.Quality.WarningScore <= cfg.Quality.CriticalScore || cfg.Quality.WarningScore > 100 {
		return fmt.Errorf("quality.warning_score (%f) must be > critical_score (%f) and <= 100", cfg.Quality.WarningScore, cfg.Quality.CriticalScore)
	}

	return nil
}
