// Package memory implements a volatile in-process accessfs backend.
// It is the reference implementation of the accessor contract and is used heavily in tests.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

type entry struct {
	dir      bool
	data     []byte
	modified time.Time
}

// MemoryAdapter implements backends.Accessor on top of a map guarded by a RWMutex.
// Files are keyed by their path, directories by their path with a trailing slash.
type MemoryAdapter struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryAdapter creates an empty in-memory backend. name only shows up in Info.
func NewMemoryAdapter(name string) *MemoryAdapter {
	return &MemoryAdapter{
		name:    name,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Info describes the memory backend
func (a *MemoryAdapter) Info() backends.Info {
	return backends.Info{
		Scheme:       "memory",
		Root:         pathutil.Root,
		Name:         a.name,
		Capabilities: backends.CapBasic | backends.CapRangedRead | backends.CapNativeDir | backends.CapSeek,
	}
}

// Read returns a seekable reader over a snapshot of the object
func (a *MemoryAdapter) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	if pathutil.IsDir(path) {
		return nil, a.missingOrDir(backends.OpRead, path)
	}

	a.mu.RLock()
	e, ok := a.entries[path]
	a.mu.RUnlock()
	if !ok {
		return nil, a.missingOrDir(backends.OpRead, path)
	}

	data := e.data
	if opts.Range != nil {
		if err := opts.Range.Validate(); err != nil {
			return nil, backends.InvalidInput(backends.OpRead, path, "%v", err)
		}
		start, end := opts.Range.Bounds(int64(len(data)))
		data = data[start:end]
	}

	// Entries are never mutated in place, so the slice is a stable snapshot
	return &memReader{ctx: ctx, path: path, Reader: bytes.NewReader(data)}, nil
}

// Write returns a buffering writer that publishes the object atomically on Close
func (a *MemoryAdapter) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	if pathutil.IsDir(path) {
		return nil, backends.InvalidInput(backends.OpWrite, path, "cannot write to a directory path")
	}
	return backends.NewBufferWriter(ctx, path, opts, func(ctx context.Context, data []byte) error {
		return a.commit(path, data)
	}), nil
}

func (a *MemoryAdapter) commit(path string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.entries[metadata.DirPath(path)]; ok && e.dir {
		return backends.NewError(backends.KindIsADirectory, backends.OpWrite, path, nil)
	}
	if err := a.ensureParentsLocked(backends.OpWrite, path); err != nil {
		return err
	}

	content := make([]byte, len(data))
	copy(content, data)
	a.entries[path] = &entry{data: content, modified: a.now()}
	return nil
}

// Stat resolves path as a file first and as a directory second
func (a *MemoryAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if pathutil.IsRoot(path) {
		return metadata.NewDir(pathutil.Root), nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	name := strings.TrimSuffix(path, "/")
	if e, ok := a.entries[name]; ok {
		if pathutil.IsDir(path) {
			return nil, backends.NewError(backends.KindNotADirectory, backends.OpStat, path, nil)
		}
		md := metadata.NewFile(name, uint64(len(e.data)))
		md.SetLastModified(e.modified)
		return md, nil
	}
	if e, ok := a.entries[name+"/"]; ok {
		md := metadata.NewDir(name)
		md.SetLastModified(e.modified)
		return md, nil
	}
	return nil, backends.NotFound(backends.OpStat, path)
}

// Delete removes a file or an empty directory
func (a *MemoryAdapter) Delete(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindPermissionDenied, backends.OpDelete, path, nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name := strings.TrimSuffix(path, "/")
	if _, ok := a.entries[name]; ok {
		if pathutil.IsDir(path) {
			return backends.NewError(backends.KindNotADirectory, backends.OpDelete, path, nil)
		}
		delete(a.entries, name)
		return nil
	}

	dir := name + "/"
	if _, ok := a.entries[dir]; !ok {
		return nil
	}
	for key := range a.entries {
		if key != dir && strings.HasPrefix(key, dir) {
			return backends.InvalidInput(backends.OpDelete, path, "directory not empty")
		}
	}
	delete(a.entries, dir)
	return nil
}

// CreateDir creates the directory and any missing parents
func (a *MemoryAdapter) CreateDir(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return nil
	}
	dir := metadata.DirPath(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[strings.TrimSuffix(dir, "/")]; ok {
		return backends.NewError(backends.KindAlreadyExists, backends.OpCreateDir, path, nil)
	}
	if _, ok := a.entries[dir]; ok {
		return nil
	}
	if err := a.ensureParentsLocked(backends.OpCreateDir, dir); err != nil {
		return err
	}
	a.entries[dir] = &entry{dir: true, modified: a.now()}
	return nil
}

// List snapshots the direct children of a directory, sorted by path
func (a *MemoryAdapter) List(ctx context.Context, path string) (backends.Lister, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prefix := ""
	if !pathutil.IsRoot(path) {
		name := strings.TrimSuffix(path, "/")
		if _, ok := a.entries[name]; ok {
			return nil, backends.NewError(backends.KindNotADirectory, backends.OpList, path, nil)
		}
		prefix = name + "/"
		if _, ok := a.entries[prefix]; !ok {
			return nil, backends.NotFound(backends.OpList, path)
		}
	}

	var children []metadata.DirEntry
	for key, e := range a.entries {
		if key == prefix || !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/")
		if strings.Contains(rest, "/") {
			continue
		}
		if e.dir {
			children = append(children, metadata.DirEntry{Path: key, Mode: metadata.Dir})
		} else {
			children = append(children, metadata.DirEntry{Path: key, Mode: metadata.File})
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })

	return backends.NewSliceLister(children), nil
}

// Close drops all stored objects
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string]*entry)
	return nil
}

// ensureParentsLocked creates missing parent directories of path. Caller must hold the write lock.
func (a *MemoryAdapter) ensureParentsLocked(op, path string) error {
	parents := pathutil.Ancestors(path)
	for _, dir := range parents {
		if _, ok := a.entries[strings.TrimSuffix(dir, "/")]; ok {
			return backends.NewError(backends.KindNotADirectory, op, path, nil)
		}
	}
	now := a.now()
	for _, dir := range parents {
		if _, ok := a.entries[dir]; !ok {
			a.entries[dir] = &entry{dir: true, modified: now}
		}
	}
	return nil
}

// missingOrDir picks the right error for a read of something that is not a file
func (a *MemoryAdapter) missingOrDir(op, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindIsADirectory, op, path, nil)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.entries[metadata.DirPath(path)]; ok {
		return backends.NewError(backends.KindIsADirectory, op, path, nil)
	}
	if _, ok := a.entries[strings.TrimSuffix(path, "/")]; ok {
		return backends.NewError(backends.KindNotADirectory, op, path, nil)
	}
	return backends.NotFound(op, path)
}

type memReader struct {
	*bytes.Reader
	ctx    context.Context
	path   string
	closed bool
}

func (r *memReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, backends.Failure(backends.OpRead, r.path, io.ErrClosedPipe)
	}
	if err := r.ctx.Err(); err != nil {
		return 0, backends.Failure(backends.OpRead, r.path, err)
	}
	return r.Reader.Read(p)
}

func (r *memReader) Close() error {
	r.closed = true
	return nil
}
