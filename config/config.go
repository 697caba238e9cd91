// Package config provides configuration management for accessfs.
// It handles loading and validating configuration from YAML/JSON files and environment variables.
package config

import "time"

// Backend types accepted in backend.type
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendNoop   = "noop"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Backend BackendConfig `koanf:"backend"`
	Layers  LayersConfig  `koanf:"layers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// SanitizeMode is one of production, development or debug
	SanitizeMode string `koanf:"sanitize_mode"`
}

// MetricsConfig holds metrics server configuration. An empty ListenAddr disables the endpoint.
type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// BackendConfig selects the storage backend and holds the settings of each type
type BackendConfig struct {
	Type   string             `koanf:"type"`
	Name   string             `koanf:"name"`
	FS     FSBackendConfig    `koanf:"fs"`
	S3     S3BackendConfig    `koanf:"s3"`
	Redis  RedisBackendConfig `koanf:"redis"`
	SQLite SQLiteConfig       `koanf:"sqlite"`
}

// FSBackendConfig holds local filesystem backend configuration
type FSBackendConfig struct {
	RootPath string `koanf:"root_path"`
}

// S3BackendConfig holds S3 backend configuration
type S3BackendConfig struct {
	Bucket               string `koanf:"bucket"`
	Region               string `koanf:"region"`
	Endpoint             string `koanf:"endpoint"` // Custom S3 endpoint (e.g., for MinIO)
	AccessKey            string `koanf:"access_key"`
	SecretKey            string `koanf:"secret_key"`
	Root                 string `koanf:"root"`
	ServerSideEncryption string `koanf:"server_side_encryption"` // SSE algorithm (AES256, aws:kms)
	ACL                  string `koanf:"acl"`                    // Object ACL (private, public-read, etc.)
	KMSKeyID             string `koanf:"kms_key_id"`             // KMS key ID for SSE-KMS
	DisableSSL           bool   `koanf:"disable_ssl"`
}

// RedisBackendConfig holds redis backend configuration
type RedisBackendConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
	Root     string `koanf:"root"`
}

// SQLiteConfig holds sqlite backend configuration
type SQLiteConfig struct {
	Path string `koanf:"path"`
	Root string `koanf:"root"`
}

// LayersConfig enables and tunes the accessor layers. Layers wrap the backend
// in the order logging, metrics, retry, throttle (outermost first).
type LayersConfig struct {
	Logging  LoggingLayerConfig  `koanf:"logging"`
	Metrics  MetricsLayerConfig  `koanf:"metrics"`
	Retry    RetryLayerConfig    `koanf:"retry"`
	Throttle ThrottleLayerConfig `koanf:"throttle"`
}

// LoggingLayerConfig holds the per-operation logging settings
type LoggingLayerConfig struct {
	Enabled       bool   `koanf:"enabled"`
	SuccessLevel  string `koanf:"success_level"`
	FailureLevel  string `koanf:"failure_level"`
	NotFoundLevel string `koanf:"not_found_level"`
}

// MetricsLayerConfig toggles operation metrics
type MetricsLayerConfig struct {
	Enabled bool `koanf:"enabled"`
}

// RetryLayerConfig holds the retry policy for transient backend failures
type RetryLayerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
	Jitter          float64       `koanf:"jitter"`
	MaxElapsed      time.Duration `koanf:"max_elapsed"`
}

// ThrottleLayerConfig holds the operation rate limit
type ThrottleLayerConfig struct {
	Enabled       bool    `koanf:"enabled"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}
