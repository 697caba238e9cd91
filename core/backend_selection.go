package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/backends/localfs"
	"github.com/ebogdum/accessfs/backends/memory"
	"github.com/ebogdum/accessfs/backends/noop"
	"github.com/ebogdum/accessfs/backends/redis"
	"github.com/ebogdum/accessfs/backends/s3"
	"github.com/ebogdum/accessfs/backends/sqlite"
	"github.com/ebogdum/accessfs/config"
	corelog "github.com/ebogdum/accessfs/core/log"
	"github.com/ebogdum/accessfs/layers"
)

// NewFromConfig opens the configured backend and wraps it with the enabled layers
func NewFromConfig(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Operator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := OpenBackend(ctx, cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	stack, err := BuildLayers(cfg, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	op := New(backend, stack...)
	logger.Info("Operator ready",
		zap.String("backend", op.Info().String()),
		zap.Stringer("capabilities", op.Info().Capabilities),
		zap.Int("layers", len(stack)))
	return op, nil
}

// OpenBackend constructs the accessor selected by cfg.Type
func OpenBackend(ctx context.Context, cfg config.BackendConfig, logger *zap.Logger) (backends.Accessor, error) {
	switch cfg.Type {
	case config.BackendFS:
		logger.Info("Initializing local filesystem backend", zap.String("root_path", cfg.FS.RootPath))
		acc, err := localfs.NewLocalFSAdapter(cfg.FS.RootPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local filesystem backend: %w", err)
		}
		return acc, nil

	case config.BackendMemory:
		logger.Info("Initializing memory backend", zap.String("name", cfg.Name))
		return memory.NewMemoryAdapter(cfg.Name), nil

	case config.BackendS3:
		logger.Info("Initializing S3 backend", zap.String("bucket", cfg.S3.Bucket), zap.String("root", cfg.S3.Root))
		acc, err := s3.NewS3Adapter(ctx, s3.Config{
			Bucket:               cfg.S3.Bucket,
			Region:               cfg.S3.Region,
			Endpoint:             cfg.S3.Endpoint,
			AccessKey:            cfg.S3.AccessKey,
			SecretKey:            cfg.S3.SecretKey,
			Root:                 cfg.S3.Root,
			ServerSideEncryption: cfg.S3.ServerSideEncryption,
			ACL:                  cfg.S3.ACL,
			KMSKeyID:             cfg.S3.KMSKeyID,
			DisableSSL:           cfg.S3.DisableSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
		}
		return acc, nil

	case config.BackendRedis:
		logger.Info("Initializing redis backend", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		acc, err := redis.NewRedisAdapter(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Root:     cfg.Redis.Root,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis backend: %w", err)
		}
		return acc, nil

	case config.BackendSQLite:
		logger.Info("Initializing sqlite backend", zap.String("path", cfg.SQLite.Path))
		acc, err := sqlite.NewSQLiteAdapter(sqlite.Config{Path: cfg.SQLite.Path, Root: cfg.SQLite.Root}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite backend: %w", err)
		}
		return acc, nil

	case config.BackendNoop:
		logger.Warn("Backend disabled, every operation will be rejected", zap.String("name", cfg.Name))
		return noop.NewNoopAdapter(cfg.Name), nil

	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// BuildLayers returns the enabled layers, outermost first: logging, metrics, retry, throttle.
// Logging and metrics sit outside retry so they see one event per caller request.
func BuildLayers(cfg config.AppConfig, logger *zap.Logger) ([]backends.Layer, error) {
	var stack []backends.Layer
	lc := cfg.Layers

	if lc.Logging.Enabled {
		mode, err := corelog.ParseMode(cfg.Log.SanitizeMode)
		if err != nil {
			return nil, err
		}
		logCfg := layers.LoggingConfig{Sanitizer: corelog.NewSanitizer(mode)}
		for _, l := range []struct {
			name  string
			value string
			dst   *zapcore.Level
		}{
			{"success_level", lc.Logging.SuccessLevel, &logCfg.SuccessLevel},
			{"failure_level", lc.Logging.FailureLevel, &logCfg.FailureLevel},
			{"not_found_level", lc.Logging.NotFoundLevel, &logCfg.NotFoundLevel},
		} {
			level, err := zapcore.ParseLevel(l.value)
			if err != nil {
				return nil, fmt.Errorf("layers.logging.%s: %w", l.name, err)
			}
			*l.dst = level
		}
		stack = append(stack, layers.NewLogging(logger, logCfg))
	}

	if lc.Metrics.Enabled {
		stack = append(stack, layers.NewMetrics(nil, logger))
	}

	if lc.Retry.Enabled {
		stack = append(stack, layers.NewRetry(layers.RetryConfig{
			MaxAttempts:     uint(lc.Retry.MaxAttempts),
			InitialInterval: lc.Retry.InitialInterval,
			MaxInterval:     lc.Retry.MaxInterval,
			Multiplier:      lc.Retry.Multiplier,
			Jitter:          lc.Retry.Jitter,
			MaxElapsed:      lc.Retry.MaxElapsed,
		}, logger))
	}

	if lc.Throttle.Enabled {
		stack = append(stack, layers.NewThrottle(lc.Throttle.RatePerSecond, lc.Throttle.Burst))
	}

	return stack, nil
}
