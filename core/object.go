package core

import (
	"context"
	"sync"

	"github.com/ebogdum/accessfs/metadata"
)

// Object is a handle bound to one path. It remembers the last metadata it fetched.
type Object struct {
	op   *Operator
	path string

	mu sync.Mutex
	md *metadata.Metadata
}

// Object returns a handle for path. No backend call is made.
func (o *Operator) Object(path string) *Object {
	return &Object{op: o, path: path}
}

// Path returns the path the handle was created with
func (obj *Object) Path() string {
	return obj.path
}

// Metadata always stats the backend and refreshes the cached value
func (obj *Object) Metadata(ctx context.Context) (*metadata.Metadata, error) {
	md, err := obj.op.Stat(ctx, obj.path)
	if err != nil {
		return nil, err
	}
	obj.mu.Lock()
	obj.md = md
	obj.mu.Unlock()
	return md, nil
}

// CachedMetadata returns the cached metadata, fetching it on first use
func (obj *Object) CachedMetadata(ctx context.Context) (*metadata.Metadata, error) {
	obj.mu.Lock()
	md := obj.md
	obj.mu.Unlock()
	if md != nil {
		return md, nil
	}
	return obj.Metadata(ctx)
}

// Invalidate drops the cached metadata
func (obj *Object) Invalidate() {
	obj.mu.Lock()
	obj.md = nil
	obj.mu.Unlock()
}

// ReadAll returns the content of the object
func (obj *Object) ReadAll(ctx context.Context) ([]byte, error) {
	return obj.op.ReadAll(ctx, obj.path)
}

// WriteBytes replaces the content of the object and drops the cached metadata
func (obj *Object) WriteBytes(ctx context.Context, data []byte) error {
	defer obj.Invalidate()
	return obj.op.WriteBytes(ctx, obj.path, data)
}

// Delete removes the object and drops the cached metadata
func (obj *Object) Delete(ctx context.Context) error {
	defer obj.Invalidate()
	return obj.op.Delete(ctx, obj.path)
}
