package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ebogdum/accessfs/metadata"
)

// Reader is a single-pass, closable byte stream returned by Read.
// Callers must Close it on every path to release backend resources.
type Reader interface {
	io.Reader
	io.Closer
}

// Writer receives the bytes of one object. Close finalizes the object and is the
// only step after which it becomes visible; Abort discards everything written.
// A writer that is neither closed nor aborted never produces a visible object.
type Writer interface {
	io.Writer
	io.Closer
	Abort() error
}

// Lister is a lazy sequence of directory entries. Next returns io.EOF once exhausted.
type Lister interface {
	Next(ctx context.Context) (metadata.DirEntry, error)
	Close() error
}

// ErrWriterDone is wrapped by InvalidInput errors returned when a finalized or aborted writer is used again
var ErrWriterDone = errors.New("writer already finalized or aborted")

// CheckLength verifies the number of written bytes against the declared content length
func CheckLength(path string, expected, written int64) error {
	if expected > 0 && expected != written {
		return InvalidInput(OpWrite, path, "declared content length %d but %d bytes were written", expected, written)
	}
	return nil
}

// sizedReader enforces the declared object length: it stops at the declared size
// and turns a premature end of stream into an explicit error.
type sizedReader struct {
	ctx       context.Context
	rc        io.ReadCloser
	path      string
	remaining int64
	closeOnce sync.Once
	closeErr  error
}

// NewSizedReader wraps rc so that exactly size bytes are produced. size < 0 disables the length check.
// Reads fail once ctx is cancelled.
func NewSizedReader(ctx context.Context, rc io.ReadCloser, path string, size int64) Reader {
	return &sizedReader{ctx: ctx, rc: rc, path: path, remaining: size}
}

func (r *sizedReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, Failure(OpRead, r.path, err)
	}
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if r.remaining > 0 && int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.rc.Read(p)
	if r.remaining > 0 {
		r.remaining -= int64(n)
	}
	switch {
	case err == io.EOF && r.remaining > 0:
		return n, Failure(OpRead, r.path, fmt.Errorf("stream ended with %d bytes missing: %w", r.remaining, io.ErrUnexpectedEOF))
	case err == io.EOF:
		return n, io.EOF
	case err != nil:
		return n, WithOp(err, OpRead, r.path)
	}
	return n, nil
}

func (r *sizedReader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.rc.Close()
	})
	return r.closeErr
}

// BufferWriter collects written bytes in memory and hands them to a commit
// function on Close. Backends whose native write is a single put use it to get
// all-or-nothing visibility.
type BufferWriter struct {
	ctx    context.Context
	path   string
	expect int64
	buf    bytes.Buffer
	commit func(ctx context.Context, data []byte) error
	done   bool
}

// NewBufferWriter returns a writer that calls commit with the full content when closed
func NewBufferWriter(ctx context.Context, path string, opts WriteOptions, commit func(ctx context.Context, data []byte) error) *BufferWriter {
	w := &BufferWriter{ctx: ctx, path: path, expect: opts.ContentLength, commit: commit}
	if opts.ContentLength > 0 {
		w.buf.Grow(int(opts.ContentLength))
	}
	return w
}

func (w *BufferWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, NewError(KindInvalidInput, OpWrite, w.path, ErrWriterDone)
	}
	if err := w.ctx.Err(); err != nil {
		return 0, Failure(OpWrite, w.path, err)
	}
	return w.buf.Write(p)
}

// Close validates the content length and commits the buffered content
func (w *BufferWriter) Close() error {
	if w.done {
		return NewError(KindInvalidInput, OpWrite, w.path, ErrWriterDone)
	}
	w.done = true
	defer w.buf.Reset()

	if err := CheckLength(w.path, w.expect, int64(w.buf.Len())); err != nil {
		return err
	}
	if err := w.ctx.Err(); err != nil {
		return Failure(OpWrite, w.path, err)
	}
	return WithOp(w.commit(w.ctx, w.buf.Bytes()), OpWrite, w.path)
}

// Abort drops the buffered content. It is safe to call more than once.
func (w *BufferWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

type sliceLister struct {
	entries []metadata.DirEntry
	pos     int
}

// NewSliceLister returns a Lister over an already materialized set of entries
func NewSliceLister(entries []metadata.DirEntry) Lister {
	return &sliceLister{entries: entries}
}

func (l *sliceLister) Next(ctx context.Context) (metadata.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return metadata.DirEntry{}, Failure(OpList, "", err)
	}
	if l.pos >= len(l.entries) {
		return metadata.DirEntry{}, io.EOF
	}
	e := l.entries[l.pos]
	l.pos++
	return e, nil
}

func (l *sliceLister) Close() error {
	l.entries = nil
	return nil
}

// PageFunc fetches one page of entries. It returns the token for the next page, or "" when done.
type PageFunc func(ctx context.Context, token string) (entries []metadata.DirEntry, next string, err error)

type pageLister struct {
	fetch   PageFunc
	page    []metadata.DirEntry
	token   string
	started bool
	done    bool
}

// NewPageLister returns a Lister that fetches pages lazily, as the caller consumes entries
func NewPageLister(fetch PageFunc) Lister {
	return &pageLister{fetch: fetch}
}

func (l *pageLister) Next(ctx context.Context) (metadata.DirEntry, error) {
	for len(l.page) == 0 {
		if l.done || (l.started && l.token == "") {
			return metadata.DirEntry{}, io.EOF
		}
		entries, next, err := l.fetch(ctx, l.token)
		if err != nil {
			return metadata.DirEntry{}, err
		}
		l.started = true
		l.page, l.token = entries, next
	}
	e := l.page[0]
	l.page = l.page[1:]
	return e, nil
}

func (l *pageLister) Close() error {
	l.done = true
	l.page = nil
	return nil
}

// ListAll drains l into a slice and closes it
func ListAll(ctx context.Context, l Lister) ([]metadata.DirEntry, error) {
	defer l.Close()

	var entries []metadata.DirEntry
	for {
		e, err := l.Next(ctx)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}
