package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Campaign.PageSize != 200 {
		t.Errorf("Expected default page size to be 200, got %d", cfg.Campaign.PageSize)
	}
	if cfg.Campaign.EndIndex != -1 {
		t.Errorf("Expected default end index to be -1, got %d", cfg.Campaign.EndIndex)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Expected default store backend to be sqlite, got %s", cfg.Store.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REPROCESSOR_WORKERS", "8")
	t.Setenv("REPROCESSOR_PAGE_SIZE", "50")
	t.Setenv("REPROCESSOR_END_INDEX", "12")
	t.Setenv("REPROCESSOR_SOURCE_URL", "http://records.local")
	t.Setenv("REPROCESSOR_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if cfg.Campaign.Workers != 8 {
		t.Errorf("Expected workers to be 8, got %d", cfg.Campaign.Workers)
	}
	if cfg.Campaign.PageSize != 50 {
		t.Errorf("Expected page size to be 50, got %d", cfg.Campaign.PageSize)
	}
	if cfg.Campaign.EndIndex != 12 {
		t.Errorf("Expected end index to be 12, got %d", cfg.Campaign.EndIndex)
	}
	if cfg.Source.BaseURL != "http://records.local" {
		t.Errorf("Expected base url override, got %s", cfg.Source.BaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("REPROCESSOR_WORKERS", "many")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "REPROCESSOR_WORKERS") {
		t.Errorf("Expected an error naming REPROCESSOR_WORKERS, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "zero workers", mutate: func(c *Config) { c.Campaign.Workers = 0 }, wantError: true},
		{name: "zero page size", mutate: func(c *Config) { c.Campaign.PageSize = 0 }, wantError: true},
		{name: "end before start", mutate: func(c *Config) { c.Campaign.StartIndex = 5; c.Campaign.EndIndex = 2 }, wantError: true},
		{name: "open range", mutate: func(c *Config) { c.Campaign.StartIndex = 5; c.Campaign.EndIndex = -1 }},
		{name: "unknown source kind", mutate: func(c *Config) { c.Source.Kind = "ftp" }, wantError: true},
		{name: "memory progress store", mutate: func(c *Config) { c.Store.Backend = "memory" }, wantError: true},
		{name: "memory cache", mutate: func(c *Config) { c.Cache.Backend = "memory" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = "postgres" }, wantError: true},
		{name: "mongo without uri", mutate: func(c *Config) { c.Cache.Backend = "mongo" }, wantError: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantError: true},
		{name: "jitter out of range", mutate: func(c *Config) { c.Retry.Jitter = 2 }, wantError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateSource(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateSource(); err == nil {
		t.Error("Expected http source without base_url to fail")
	}

	cfg.Source.BaseURL = "http://records.local"
	if err := cfg.ValidateSource(); err != nil {
		t.Errorf("Expected valid http source, got %v", err)
	}

	cfg.Source.Kind = "mongo"
	if err := cfg.ValidateSource(); err == nil {
		t.Error("Expected mongo source without uri to fail")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	workers, start, end, level := 7, 3, 9, "error"

	cfg.Apply(Overrides{Workers: &workers, StartIndex: &start, EndIndex: &end, LogLevel: &level})

	if cfg.Campaign.Workers != 7 || cfg.Campaign.StartIndex != 3 || cfg.Campaign.EndIndex != 9 {
		t.Errorf("Unexpected campaign after overrides: %+v", cfg.Campaign)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Expected log level to be error, got %s", cfg.Logging.Level)
	}
	if cfg.Campaign.PageSize != DefaultPageSize {
		t.Errorf("Expected untouched page size, got %d", cfg.Campaign.PageSize)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reprocessor.yaml")
	content := `
campaign:
  workers: 6
  page_size: 100
retry:
  max_attempts: 3
  base_delay: 2s
  max_delay: 30s
source:
  kind: mongo
  mongo_uri: mongodb://localhost:27017
  mongo_db: catalogue
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("Failed to load yaml: %v", err)
	}

	if cfg.Campaign.Workers != 6 || cfg.Campaign.PageSize != 100 {
		t.Errorf("Unexpected campaign: %+v", cfg.Campaign)
	}
	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("Expected base delay 2s, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Source.Kind != "mongo" || cfg.Source.MongoDB != "catalogue" {
		t.Errorf("Unexpected source: %+v", cfg.Source)
	}
	if cfg.Source.RecordsCollection != "record" {
		t.Errorf("Expected defaults to survive partial files, got %q", cfg.Source.RecordsCollection)
	}
}

func TestLoadFromFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reprocessor.toml")
	content := `
[campaign]
workers = 2
start_index = 10
end_index = 20

[store]
backend = "file"
path = "/var/lib/reprocessor"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("Failed to load toml: %v", err)
	}

	if cfg.Campaign.Workers != 2 || cfg.Campaign.StartIndex != 10 || cfg.Campaign.EndIndex != 20 {
		t.Errorf("Unexpected campaign: %+v", cfg.Campaign)
	}
	if cfg.Store.Backend != "file" || cfg.Store.Path != "/var/lib/reprocessor" {
		t.Errorf("Unexpected store: %+v", cfg.Store)
	}
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("campaign: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reprocessor.yaml")
	if err := os.WriteFile(path, []byte("campaign:\n  workers: 3\n  page_size: 20\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", dir)
	t.Setenv("REPROCESSOR_WORKERS", "5")
	workers := 9

	cfg, err := Load(path, Overrides{Workers: &workers})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Campaign.Workers != 9 {
		t.Errorf("Expected flag to win, got %d", cfg.Campaign.Workers)
	}
	if cfg.Campaign.PageSize != 20 {
		t.Errorf("Expected file value for page size, got %d", cfg.Campaign.PageSize)
	}

	bad := 0
	if _, err := Load(path, Overrides{Workers: &bad}); err == nil {
		t.Error("Expected validation failure for zero workers")
	}
}
