package noop

import (
	"context"
	"errors"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/metadata"
)

// NoopAdapter is a no-operation storage backend that rejects every operation
// This is used when a backend is not configured/enabled
type NoopAdapter struct {
	name string
}

// NewNoopAdapter creates a new noop storage adapter
func NewNoopAdapter(name string) *NoopAdapter {
	return &NoopAdapter{name: name}
}

// Info reports an empty capability set
func (n *NoopAdapter) Info() backends.Info {
	return backends.Info{Scheme: "noop", Root: "/", Name: n.name}
}

// Read always returns Unsupported for noop backend
func (n *NoopAdapter) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	return nil, disabled(backends.OpRead, path)
}

// Write always returns Unsupported for noop backend
func (n *NoopAdapter) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	return nil, disabled(backends.OpWrite, path)
}

// Stat always returns Unsupported for noop backend
func (n *NoopAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	return nil, disabled(backends.OpStat, path)
}

// Delete always returns Unsupported for noop backend
func (n *NoopAdapter) Delete(ctx context.Context, path string) error {
	return disabled(backends.OpDelete, path)
}

// CreateDir always returns Unsupported for noop backend
func (n *NoopAdapter) CreateDir(ctx context.Context, path string) error {
	return disabled(backends.OpCreateDir, path)
}

// List always returns Unsupported for noop backend
func (n *NoopAdapter) List(ctx context.Context, path string) (backends.Lister, error) {
	return nil, disabled(backends.OpList, path)
}

// Close is a no-op
func (n *NoopAdapter) Close() error {
	return nil
}

var errNotEnabled = errors.New("backend not enabled")

func disabled(op, path string) error {
	return backends.NewError(backends.KindUnsupported, op, path, errNotEnabled)
}
