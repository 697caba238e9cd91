// Package localfs implements an accessfs backend on top of a local directory tree.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

// stagingDir holds in-flight writes. It lives under the root so finalizing is a same-device rename.
const stagingDir = ".accessfs-staging"

const listBatchSize = 256

// LocalFSAdapter implements backends.Accessor for a local filesystem root
type LocalFSAdapter struct {
	rootPath string
}

// NewLocalFSAdapter creates a new local filesystem adapter rooted at rootPath
func NewLocalFSAdapter(rootPath string) (*LocalFSAdapter, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("local filesystem root path is required")
	}

	// Ensure root path and staging area exist
	if err := os.MkdirAll(filepath.Join(rootPath, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create root path %s: %w", rootPath, err)
	}

	// Verify path is accessible
	if _, err := os.Stat(rootPath); err != nil {
		return nil, fmt.Errorf("root path %s is not accessible: %w", rootPath, err)
	}

	return &LocalFSAdapter{
		rootPath: filepath.Clean(rootPath),
	}, nil
}

// Info describes the local filesystem backend
func (a *LocalFSAdapter) Info() backends.Info {
	return backends.Info{
		Scheme:       "fs",
		Root:         a.rootPath,
		Capabilities: backends.CapBasic | backends.CapRangedRead | backends.CapNativeDir,
	}
}

func (a *LocalFSAdapter) resolve(op, path string) (string, error) {
	if strings.HasPrefix(strings.TrimPrefix(path, "/"), stagingDir) {
		return "", backends.NewError(backends.KindPermissionDenied, op, path, nil)
	}
	full, err := pathutil.SafeJoin(a.rootPath, path)
	if err != nil {
		return "", backends.WithOp(err, op, path)
	}
	return full, nil
}

// Read opens a file for reading, optionally restricted to a byte range
func (a *LocalFSAdapter) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, backends.Failure(backends.OpRead, path, err)
	}
	fullPath, err := a.resolve(backends.OpRead, path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, mapOSError(backends.OpRead, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, mapOSError(backends.OpRead, path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, backends.NewError(backends.KindIsADirectory, backends.OpRead, path, nil)
	}
	if pathutil.IsDir(path) {
		file.Close()
		return nil, backends.NewError(backends.KindNotADirectory, backends.OpRead, path, nil)
	}

	start, end := int64(0), info.Size()
	if opts.Range != nil {
		if err := opts.Range.Validate(); err != nil {
			file.Close()
			return nil, backends.InvalidInput(backends.OpRead, path, "%v", err)
		}
		start, end = opts.Range.Bounds(info.Size())
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			file.Close()
			return nil, backends.Failure(backends.OpRead, path, err)
		}
	}

	body := struct {
		io.Reader
		io.Closer
	}{io.LimitReader(file, end-start), file}
	return backends.NewSizedReader(ctx, body, path, end-start), nil
}

// Write stages content in a temporary file that is renamed into place on Close
func (a *LocalFSAdapter) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	if pathutil.IsDir(path) {
		return nil, backends.InvalidInput(backends.OpWrite, path, "cannot write to a directory path")
	}
	fullPath, err := a.resolve(backends.OpWrite, path)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(a.rootPath, stagingDir), "write-*")
	if err != nil {
		return nil, mapOSError(backends.OpWrite, path, err)
	}

	w := &fileWriter{
		ctx:      ctx,
		path:     path,
		target:   fullPath,
		tmp:      tmp,
		expected: opts.ContentLength,
	}
	// A writer dropped without Close or Abort is cleaned up once its context ends
	w.stop = context.AfterFunc(ctx, func() { _ = w.Abort() })
	return w, nil
}

// Stat returns metadata for a file or directory
func (a *LocalFSAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, backends.Failure(backends.OpStat, path, err)
	}
	fullPath, err := a.resolve(backends.OpStat, path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, mapOSError(backends.OpStat, path, err)
	}

	if pathutil.IsDir(path) && !info.IsDir() {
		return nil, backends.NewError(backends.KindNotADirectory, backends.OpStat, path, nil)
	}

	var md *metadata.Metadata
	if info.IsDir() {
		md = metadata.NewDir(path)
	} else {
		md = metadata.NewFile(strings.TrimSuffix(path, "/"), uint64(info.Size()))
	}
	md.SetLastModified(info.ModTime())
	return md, nil
}

// Delete removes a file or empty directory. Missing paths are not an error.
func (a *LocalFSAdapter) Delete(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindPermissionDenied, backends.OpDelete, path, nil)
	}
	fullPath, err := a.resolve(backends.OpDelete, path)
	if err != nil {
		return err
	}

	// resolve drops the trailing slash, so directory intent is checked here
	if pathutil.IsDir(path) {
		info, err := os.Stat(fullPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return mapOSError(backends.OpDelete, path, err)
		}
		if !info.IsDir() {
			return backends.NewError(backends.KindNotADirectory, backends.OpDelete, path, nil)
		}
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return mapOSError(backends.OpDelete, path, err)
	}
	return nil
}

// CreateDir creates a directory and its parents
func (a *LocalFSAdapter) CreateDir(ctx context.Context, path string) error {
	fullPath, err := a.resolve(backends.OpCreateDir, path)
	if err != nil {
		return err
	}

	// Check if path already exists as a file
	if info, err := os.Stat(fullPath); err == nil {
		if !info.IsDir() {
			return backends.NewError(backends.KindAlreadyExists, backends.OpCreateDir, path, nil)
		}
		// Directory already exists - this is not an error for CreateDir
		return nil
	}

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return mapOSError(backends.OpCreateDir, path, err)
	}
	return nil
}

// List streams the children of a directory in batches
func (a *LocalFSAdapter) List(ctx context.Context, path string) (backends.Lister, error) {
	fullPath, err := a.resolve(backends.OpList, path)
	if err != nil {
		return nil, err
	}

	dir, err := os.Open(fullPath)
	if err != nil {
		return nil, mapOSError(backends.OpList, path, err)
	}
	info, err := dir.Stat()
	if err != nil {
		dir.Close()
		return nil, mapOSError(backends.OpList, path, err)
	}
	if !info.IsDir() {
		dir.Close()
		return nil, backends.NewError(backends.KindNotADirectory, backends.OpList, path, nil)
	}

	prefix := ""
	if !pathutil.IsRoot(path) {
		prefix = metadata.DirPath(path)
	}
	return &dirLister{dir: dir, path: path, prefix: prefix}, nil
}

// Close closes any resources used by the storage backend
func (a *LocalFSAdapter) Close() error {
	// No resources to close for local filesystem
	return nil
}

type dirLister struct {
	dir    *os.File
	path   string
	prefix string
	batch  []os.DirEntry
	done   bool
}

func (l *dirLister) Next(ctx context.Context) (metadata.DirEntry, error) {
	for len(l.batch) == 0 {
		if l.done {
			return metadata.DirEntry{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return metadata.DirEntry{}, backends.Failure(backends.OpList, l.path, err)
		}
		batch, err := l.dir.ReadDir(listBatchSize)
		if err == io.EOF {
			l.done = true
			continue
		}
		if err != nil {
			return metadata.DirEntry{}, mapOSError(backends.OpList, l.path, err)
		}
		l.batch = batch
	}

	entry := l.batch[0]
	l.batch = l.batch[1:]
	if l.prefix == "" && entry.Name() == stagingDir {
		return l.Next(ctx)
	}
	if entry.IsDir() {
		return metadata.DirEntry{Path: l.prefix + entry.Name() + "/", Mode: metadata.Dir}, nil
	}
	return metadata.DirEntry{Path: l.prefix + entry.Name(), Mode: metadata.File}, nil
}

func (l *dirLister) Close() error {
	l.done = true
	return l.dir.Close()
}

type fileWriter struct {
	mu       sync.Mutex
	ctx      context.Context
	path     string
	target   string
	tmp      *os.File
	expected int64
	written  int64
	done     bool
	stop     func() bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return 0, backends.NewError(backends.KindInvalidInput, backends.OpWrite, w.path, backends.ErrWriterDone)
	}
	n, err := w.tmp.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, mapOSError(backends.OpWrite, w.path, err)
	}
	return n, nil
}

// Close syncs the staged file and renames it over the target
func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return backends.NewError(backends.KindInvalidInput, backends.OpWrite, w.path, backends.ErrWriterDone)
	}
	w.done = true
	w.stop()

	if err := w.finalize(); err != nil {
		w.tmp.Close()
		os.Remove(w.tmp.Name())
		return err
	}
	return nil
}

func (w *fileWriter) finalize() error {
	if err := backends.CheckLength(w.path, w.expected, w.written); err != nil {
		return err
	}
	if err := w.ctx.Err(); err != nil {
		return backends.Failure(backends.OpWrite, w.path, err)
	}
	if err := w.tmp.Sync(); err != nil {
		return mapOSError(backends.OpWrite, w.path, err)
	}
	if err := w.tmp.Close(); err != nil {
		return mapOSError(backends.OpWrite, w.path, err)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(w.target), 0755); err != nil {
		return mapOSError(backends.OpWrite, w.path, err)
	}
	if info, err := os.Stat(w.target); err == nil && info.IsDir() {
		return backends.NewError(backends.KindIsADirectory, backends.OpWrite, w.path, nil)
	}
	if err := os.Rename(w.tmp.Name(), w.target); err != nil {
		return mapOSError(backends.OpWrite, w.path, err)
	}
	return nil
}

// Abort removes the staged file
func (w *fileWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true
	w.stop()
	w.tmp.Close()
	if err := os.Remove(w.tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mapOSError(backends.OpWrite, w.path, err)
	}
	return nil
}

// mapOSError maps filesystem errors onto the accessfs error taxonomy
func mapOSError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return backends.NewError(backends.KindObjectNotFound, op, path, err)
	case errors.Is(err, fs.ErrExist):
		return backends.NewError(backends.KindAlreadyExists, op, path, err)
	case errors.Is(err, fs.ErrPermission):
		return backends.NewError(backends.KindPermissionDenied, op, path, err)
	case errors.Is(err, syscall.ENOTDIR):
		return backends.NewError(backends.KindNotADirectory, op, path, err)
	case errors.Is(err, syscall.EISDIR):
		return backends.NewError(backends.KindIsADirectory, op, path, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		return backends.NewError(backends.KindInvalidInput, op, path, err)
	default:
		return backends.Failure(op, path, err)
	}
}
