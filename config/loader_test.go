package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultAppConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "accessfs.yaml", `
log:
  level: debug
  sanitize_mode: development
backend:
  type: sqlite
  sqlite:
    path: /tmp/objects.db
    root: tenant
layers:
  retry:
    max_attempts: 7
    initial_interval: 250ms
  throttle:
    enabled: true
    rate_per_second: 20
    burst: 4
`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.SanitizeMode != "development" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Backend.Type != BackendSQLite || cfg.Backend.SQLite.Path != "/tmp/objects.db" || cfg.Backend.SQLite.Root != "tenant" {
		t.Errorf("unexpected backend config %+v", cfg.Backend)
	}
	if cfg.Layers.Retry.MaxAttempts != 7 || cfg.Layers.Retry.InitialInterval != 250*time.Millisecond {
		t.Errorf("unexpected retry config %+v", cfg.Layers.Retry)
	}
	// Untouched defaults survive the merge
	if cfg.Layers.Retry.MaxInterval != 5*time.Second || !cfg.Layers.Retry.Enabled {
		t.Errorf("retry defaults lost: %+v", cfg.Layers.Retry)
	}
	if !cfg.Layers.Throttle.Enabled || cfg.Layers.Throttle.Burst != 4 {
		t.Errorf("unexpected throttle config %+v", cfg.Layers.Throttle)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "accessfs.json", `{"backend": {"type": "memory", "name": "scratch"}}`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.Type != BackendMemory || cfg.Backend.Name != "scratch" {
		t.Errorf("unexpected backend config %+v", cfg.Backend)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "accessfs.yaml", "backend:\n  type: fs\n  fs:\n    root_path: /srv/data\n")
	t.Setenv("ACCESSFS_BACKEND__FS__ROOT_PATH", "/srv/override")
	t.Setenv("ACCESSFS_LAYERS__RETRY__MAX_ATTEMPTS", "9")

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.FS.RootPath != "/srv/override" {
		t.Errorf("env override ignored, root_path = %q", cfg.Backend.FS.RootPath)
	}
	if cfg.Layers.Retry.MaxAttempts != 9 {
		t.Errorf("env override ignored, max_attempts = %d", cfg.Layers.Retry.MaxAttempts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := writeConfig(t, "accessfs.toml", "x = 1")
	if _, err := LoadConfigFromFile(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"unknown backend", func(c *AppConfig) { c.Backend.Type = "ftp" }, "backend.type"},
		{"fs without root", func(c *AppConfig) { c.Backend.FS.RootPath = "" }, "backend.fs.root_path"},
		{"s3 without bucket", func(c *AppConfig) { c.Backend.Type = BackendS3 }, "backend.s3.bucket"},
		{"kms without key", func(c *AppConfig) {
			c.Backend.Type = BackendS3
			c.Backend.S3.Bucket = "b"
			c.Backend.S3.ServerSideEncryption = "aws:kms"
		}, "kms_key_id"},
		{"redis without addr", func(c *AppConfig) {
			c.Backend.Type = BackendRedis
			c.Backend.Redis.Addr = ""
		}, "backend.redis.addr"},
		{"sqlite without path", func(c *AppConfig) {
			c.Backend.Type = BackendSQLite
			c.Backend.SQLite.Path = ""
		}, "backend.sqlite.path"},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "loud" }, "log.level"},
		{"bad sanitize mode", func(c *AppConfig) { c.Log.SanitizeMode = "paranoid" }, "log.sanitize_mode"},
		{"bad layer level", func(c *AppConfig) { c.Layers.Logging.FailureLevel = "shout" }, "layers.logging.failure_level"},
		{"zero retry attempts", func(c *AppConfig) { c.Layers.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"throttle without rate", func(c *AppConfig) {
			c.Layers.Throttle.Enabled = true
			c.Layers.Throttle.RatePerSecond = 0
		}, "rate_per_second"},
		{"memory needs nothing", func(c *AppConfig) {
			c.Backend.Type = BackendMemory
			c.Backend.FS.RootPath = ""
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			tt.mutate(&cfg)
			err := Validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
