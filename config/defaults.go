package config

import "time"

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			SanitizeMode: "production",
		},
		Metrics: MetricsConfig{
			ListenAddr: "", // Disabled unless configured
		},
		Backend: BackendConfig{
			Type: BackendFS,
			Name: "default",
			FS: FSBackendConfig{
				RootPath: "/var/lib/accessfs",
			},
			S3: S3BackendConfig{
				Region:               "us-east-1",
				ServerSideEncryption: "AES256",  // Default to AES256 for security
				ACL:                  "private", // Default to private ACL for security
			},
			Redis: RedisBackendConfig{
				Addr:   "localhost:6379",
				Prefix: "accessfs:",
			},
			SQLite: SQLiteConfig{
				Path: "./accessfs.sqlite3",
			},
		},
		Layers: LayersConfig{
			Logging: LoggingLayerConfig{
				Enabled:       true,
				SuccessLevel:  "debug",
				FailureLevel:  "warn",
				NotFoundLevel: "debug",
			},
			Metrics: MetricsLayerConfig{
				Enabled: true,
			},
			Retry: RetryLayerConfig{
				Enabled:         true,
				MaxAttempts:     3,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				Multiplier:      2,
				Jitter:          0.5,
				MaxElapsed:      30 * time.Second,
			},
			Throttle: ThrottleLayerConfig{
				Enabled:       false,
				RatePerSecond: 100,
				Burst:         10,
			},
		},
	}
}
