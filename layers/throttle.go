package layers

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/metadata"
)

// NewThrottle returns a layer that admits at most ratePerSecond calls per
// second with the given burst. Waiting callers give up when their context ends.
func NewThrottle(ratePerSecond float64, burst int) backends.Layer {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return NewThrottleWithLimiter(limiter)
}

// NewThrottleWithLimiter shares one limiter between every accessor the layer wraps
func NewThrottleWithLimiter(limiter *rate.Limiter) backends.Layer {
	return backends.LayerFunc(func(inner backends.Accessor) backends.Accessor {
		return &throttleAccessor{Accessor: inner, limiter: limiter}
	})
}

type throttleAccessor struct {
	backends.Accessor
	limiter *rate.Limiter
}

func (t *throttleAccessor) wait(ctx context.Context, op, path string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return backends.Failure(op, path, err)
	}
	return nil
}

func (t *throttleAccessor) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	if err := t.wait(ctx, backends.OpRead, path); err != nil {
		return nil, err
	}
	return t.Accessor.Read(ctx, path, opts)
}

func (t *throttleAccessor) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	if err := t.wait(ctx, backends.OpWrite, path); err != nil {
		return nil, err
	}
	return t.Accessor.Write(ctx, path, opts)
}

func (t *throttleAccessor) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if err := t.wait(ctx, backends.OpStat, path); err != nil {
		return nil, err
	}
	return t.Accessor.Stat(ctx, path)
}

func (t *throttleAccessor) Delete(ctx context.Context, path string) error {
	if err := t.wait(ctx, backends.OpDelete, path); err != nil {
		return err
	}
	return t.Accessor.Delete(ctx, path)
}

func (t *throttleAccessor) CreateDir(ctx context.Context, path string) error {
	if err := t.wait(ctx, backends.OpCreateDir, path); err != nil {
		return err
	}
	return t.Accessor.CreateDir(ctx, path)
}

func (t *throttleAccessor) List(ctx context.Context, path string) (backends.Lister, error) {
	if err := t.wait(ctx, backends.OpList, path); err != nil {
		return nil, err
	}
	return t.Accessor.List(ctx, path)
}
