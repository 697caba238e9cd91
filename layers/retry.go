// Package layers holds the accessor middleware shipped with accessfs: retry,
// metrics, logging and throttling. Each constructor returns a backends.Layer.
package layers

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/metadata"
)

// RetryConfig bounds the retry layer
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	// MaxElapsed caps the total time spent on one call, waits included.
	// Zero removes the cap, leaving MaxAttempts and the context as the only bounds.
	MaxElapsed time.Duration
}

// noElapsedCap stands in for "no cap"; backoff.Retry applies its own 15 minute default when the option is omitted
const noElapsedCap = time.Duration(math.MaxInt64)

func (c RetryConfig) elapsedCap() time.Duration {
	if c.MaxElapsed <= 0 {
		return noElapsedCap
	}
	return c.MaxElapsed
}

// DefaultRetryConfig returns the settings used when a field is left at zero
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
		MaxElapsed:      30 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = d.Jitter
	}
	return c
}

// NewRetry returns a layer that retries calls failing with BackendFailure.
// Every other kind is returned on the first attempt. Only the call itself is
// retried: bytes already flowing through a Reader or Writer are not replayed.
func NewRetry(cfg RetryConfig, logger *zap.Logger) backends.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return backends.LayerFunc(func(inner backends.Accessor) backends.Accessor {
		return &retryAccessor{Accessor: inner, cfg: cfg, logger: logger}
	})
}

type retryAccessor struct {
	backends.Accessor
	cfg    RetryConfig
	logger *zap.Logger
}

func (r *retryAccessor) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	return retryCall(ctx, r, backends.OpRead, path, func() (backends.Reader, error) {
		return r.Accessor.Read(ctx, path, opts)
	})
}

func (r *retryAccessor) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	return retryCall(ctx, r, backends.OpWrite, path, func() (backends.Writer, error) {
		return r.Accessor.Write(ctx, path, opts)
	})
}

func (r *retryAccessor) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	return retryCall(ctx, r, backends.OpStat, path, func() (*metadata.Metadata, error) {
		return r.Accessor.Stat(ctx, path)
	})
}

func (r *retryAccessor) Delete(ctx context.Context, path string) error {
	_, err := retryCall(ctx, r, backends.OpDelete, path, func() (struct{}, error) {
		return struct{}{}, r.Accessor.Delete(ctx, path)
	})
	return err
}

func (r *retryAccessor) CreateDir(ctx context.Context, path string) error {
	_, err := retryCall(ctx, r, backends.OpCreateDir, path, func() (struct{}, error) {
		return struct{}{}, r.Accessor.CreateDir(ctx, path)
	})
	return err
}

func (r *retryAccessor) List(ctx context.Context, path string) (backends.Lister, error) {
	return retryCall(ctx, r, backends.OpList, path, func() (backends.Lister, error) {
		return r.Accessor.List(ctx, path)
	})
}

func (r *retryAccessor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.Multiplier = r.cfg.Multiplier
	b.RandomizationFactor = r.cfg.Jitter
	return b
}

func retryCall[T any](ctx context.Context, r *retryAccessor, op, path string, call func() (T, error)) (T, error) {
	var lastErr error
	attempt := 0

	operation := func() (T, error) {
		attempt++
		res, err := call()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !backends.KindOf(err).Retryable() {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(r.cfg.elapsedCap()),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("Retrying backend operation",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	}
	res, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return res, nil
	}

	// Cancellation during a wait surfaces the context error; report the last backend error instead
	var be *backends.Error
	if lastErr != nil && !errors.As(err, &be) {
		err = lastErr
	}
	return res, backends.WithOp(err, op, path)
}
