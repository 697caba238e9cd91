package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"

	corelog "github.com/ebogdum/accessfs/core/log"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are separated
// by a double underscore: ACCESSFS_BACKEND__FS__ROOT_PATH sets backend.fs.root_path.
const EnvPrefix = "ACCESSFS_"

// LoadConfig loads configuration from multiple sources with strict priority:
// 1. Environment variables (highest priority)
// 2. Config file (config.yaml, config.yml or config.json)
// 3. Defaults (lowest priority)
func LoadConfig() (AppConfig, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile loads configuration from multiple sources with a specific config file:
// 1. Environment variables (highest priority)
// 2. Specified config file or default config files
// 3. Defaults (lowest priority)
func LoadConfigFromFile(configFilePath string) (AppConfig, error) {
	k := koanf.New(".")

	// Load default configuration first
	if err := k.Load(structs.Provider(DefaultAppConfig(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load default config: %w", err)
	}

	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err != nil {
			return AppConfig{}, fmt.Errorf("specified config file %s not found: %w", configFilePath, err)
		}
		if err := loadFile(k, configFilePath); err != nil {
			return AppConfig{}, err
		}
	} else {
		// Load from default config files if they exist
		for _, configFile := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(configFile); err == nil {
				if err := loadFile(k, configFile); err != nil {
					return AppConfig{}, err
				}
				break
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		parser = yaml.Parser()
	case strings.HasSuffix(path, ".json"):
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps ACCESSFS_LAYERS__RETRY__MAX_ATTEMPTS to layers.retry.max_attempts
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the settings required by the selected backend and the enabled layers are present
func Validate(cfg *AppConfig) error {
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := corelog.ParseMode(cfg.Log.SanitizeMode); err != nil {
		return fmt.Errorf("log.sanitize_mode: %w", err)
	}

	switch cfg.Backend.Type {
	case BackendFS:
		if cfg.Backend.FS.RootPath == "" {
			return fmt.Errorf("backend.fs.root_path is required")
		}
	case BackendS3:
		if cfg.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required")
		}
		if cfg.Backend.S3.ServerSideEncryption == "aws:kms" && cfg.Backend.S3.KMSKeyID == "" {
			return fmt.Errorf("backend.s3.kms_key_id is required for aws:kms encryption")
		}
	case BackendRedis:
		if cfg.Backend.Redis.Addr == "" {
			return fmt.Errorf("backend.redis.addr is required")
		}
	case BackendSQLite:
		if cfg.Backend.SQLite.Path == "" {
			return fmt.Errorf("backend.sqlite.path is required")
		}
	case BackendMemory, BackendNoop:
	default:
		return fmt.Errorf("backend.type %q is not supported", cfg.Backend.Type)
	}

	if l := cfg.Layers.Logging; l.Enabled {
		for key, level := range map[string]string{
			"success_level":   l.SuccessLevel,
			"failure_level":   l.FailureLevel,
			"not_found_level": l.NotFoundLevel,
		} {
			if _, err := zapcore.ParseLevel(level); err != nil {
				return fmt.Errorf("layers.logging.%s: %w", key, err)
			}
		}
	}
	if r := cfg.Layers.Retry; r.Enabled {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("layers.retry.max_attempts must be at least 1")
		}
		if r.Jitter < 0 || r.Jitter > 1 {
			return fmt.Errorf("layers.retry.jitter must be between 0 and 1")
		}
	}
	if t := cfg.Layers.Throttle; t.Enabled {
		if t.RatePerSecond <= 0 {
			return fmt.Errorf("layers.throttle.rate_per_second must be positive")
		}
		if t.Burst < 1 {
			return fmt.Errorf("layers.throttle.burst must be at least 1")
		}
	}

	return nil
}
