package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/retaildw/platform/pkg/types"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "test_config.yaml")

	configContent := `
database:
  host: "localhost"
  port: 5432
  dbname: "test_db"
  username: "test_user"
  password: "test_pass"
  sslmode: "disable"

etl:
  batch_size: 500
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Host != "localhost" {
		t.Errorf("expected host 'localhost', got %s", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Database.Port)
	}
	if cfg.ETL.BatchSize != 500 {
		t.Errorf("expected batch_size 500, got %d", cfg.ETL.BatchSize)
	}
	if cfg.ETL.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.ETL.MaxRetries)
	}
}

func TestLoadNonExistentConfig(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *types.Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("failed to build base config: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*types.Config)
		wantErr bool
	}{
		{"valid defaults", func(c *types.Config) {}, false},
		{"missing host", func(c *types.Config) { c.Database.Host = "" }, true},
		{"bad port", func(c *types.Config) { c.Database.Port = 70000 }, true},
		{"bad sslmode", func(c *types.Config) { c.Database.SSLMode = "bogus" }, true},
		{"zero batch size", func(c *types.Config) { c.ETL.BatchSize = 0 }, true},
		{"warning <= critical", func(c *types.Config) { c.Quality.WarningScore = c.Quality.CriticalScore }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
