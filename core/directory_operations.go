package core

import (
	"context"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

// CreateDir creates the directory at path and any missing parents
func (o *Operator) CreateDir(ctx context.Context, path string) error {
	p, err := o.prepare(backends.OpCreateDir, path)
	if err != nil {
		return err
	}
	return o.acc.CreateDir(ctx, dirIntent(p))
}

// List returns a lazy listing of the direct children of the directory at path
func (o *Operator) List(ctx context.Context, path string) (backends.Lister, error) {
	p, err := o.prepare(backends.OpList, path)
	if err != nil {
		return nil, err
	}
	return o.acc.List(ctx, dirIntent(p))
}

// ListAll collects the full listing of the directory at path
func (o *Operator) ListAll(ctx context.Context, path string) ([]metadata.DirEntry, error) {
	l, err := o.List(ctx, path)
	if err != nil {
		return nil, err
	}
	return backends.ListAll(ctx, l)
}

func dirIntent(p string) string {
	if pathutil.IsRoot(p) {
		return pathutil.Root
	}
	return metadata.DirPath(p)
}
