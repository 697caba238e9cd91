package core

import (
	"context"
	"io"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/metadata"
)

// Read opens a reader over the object at path. A range in opts requires CapRangedRead.
func (o *Operator) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	p, err := o.prepare(backends.OpRead, path)
	if err != nil {
		return nil, err
	}
	if opts.Range != nil {
		if !o.info.Capabilities.Has(backends.CapRangedRead) {
			return nil, backends.Unsupported(backends.OpRead, p, "ranged reads")
		}
		if err := opts.Range.Validate(); err != nil {
			return nil, backends.InvalidInput(backends.OpRead, p, "%v", err)
		}
	}
	return o.acc.Read(ctx, p, opts)
}

// ReadAll returns the full content of the object at path
func (o *Operator) ReadAll(ctx context.Context, path string) ([]byte, error) {
	return o.readAll(ctx, path, backends.ReadOptions{})
}

// ReadRange returns at most size bytes starting at offset
func (o *Operator) ReadRange(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	return o.readAll(ctx, path, backends.ReadOptions{Range: &backends.Range{Offset: offset, Length: size}})
}

// ReadOffset opens a reader that starts at offset and runs to the end of the object
func (o *Operator) ReadOffset(ctx context.Context, path string, offset int64) (backends.Reader, error) {
	return o.Read(ctx, path, backends.ReadOptions{Range: &backends.Range{Offset: offset, Length: -1}})
}

// ReadLimited opens a reader over the first size bytes of the object
func (o *Operator) ReadLimited(ctx context.Context, path string, size int64) (backends.Reader, error) {
	return o.Read(ctx, path, backends.ReadOptions{Range: &backends.Range{Offset: 0, Length: size}})
}

func (o *Operator) readAll(ctx context.Context, path string, opts backends.ReadOptions) ([]byte, error) {
	r, err := o.Read(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, backends.WithOp(err, backends.OpRead, path)
	}
	return data, nil
}

// Write opens a writer for path. Nothing is visible until the writer is closed successfully.
func (o *Operator) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	p, err := o.prepare(backends.OpWrite, path)
	if err != nil {
		return nil, err
	}
	return o.acc.Write(ctx, p, opts)
}

// WriteBytes stores data at path in one call
func (o *Operator) WriteBytes(ctx context.Context, path string, data []byte) error {
	w, err := o.Write(ctx, path, backends.WriteOptions{ContentLength: int64(len(data))})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// WriteFrom copies r into the object at path. size is the declared length, or
// backends.UnknownLength. On any failure the write is aborted and nothing becomes visible.
func (o *Operator) WriteFrom(ctx context.Context, path string, r io.Reader, size int64) (int64, error) {
	w, err := o.Write(ctx, path, backends.WriteOptions{ContentLength: size})
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Abort()
		return n, backends.WithOp(err, backends.OpWrite, path)
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Stat returns the metadata of the file or directory at path
func (o *Operator) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	p, err := o.prepare(backends.OpStat, path)
	if err != nil {
		return nil, err
	}
	return o.acc.Stat(ctx, p)
}

// IsExist reports whether path exists. ObjectNotFound yields false; any other error is returned.
func (o *Operator) IsExist(ctx context.Context, path string) (bool, error) {
	_, err := o.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case backends.IsKind(err, backends.KindObjectNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the file or empty directory at path. A missing path is not an error.
func (o *Operator) Delete(ctx context.Context, path string) error {
	p, err := o.prepare(backends.OpDelete, path)
	if err != nil {
		return err
	}
	return o.acc.Delete(ctx, p)
}
