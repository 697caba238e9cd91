package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/backends/backendtest"
)

func newTestAdapter(t *testing.T) *LocalFSAdapter {
	t.Helper()
	a, err := NewLocalFSAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("create adapter: %v", err)
	}
	return a
}

func TestLocalFSAdapterConformance(t *testing.T) {
	backendtest.RunSuite(t, func(t *testing.T) backends.Accessor {
		return newTestAdapter(t)
	})
}

func TestNewLocalFSAdapterRequiresRoot(t *testing.T) {
	if _, err := NewLocalFSAdapter(""); err == nil {
		t.Fatal("expected error for empty root path")
	}
}

func TestStagingAreaIsHidden(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	w, err := a.Write(ctx, "pending", backends.WriteOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Abort()
	if _, err := w.Write([]byte("in flight")); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := a.List(ctx, "/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries, err := backends.ListAll(ctx, l)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root listing while write is pending, got %+v", entries)
	}

	_, err = a.Stat(ctx, stagingDir+"/")
	backendtest.RequireKind(t, err, backends.KindPermissionDenied)
}

func TestAbortRemovesStagedFile(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	w, err := a.Write(ctx, "gone", backends.WriteOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.Write([]byte("temporary")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	staged, err := os.ReadDir(filepath.Join(a.rootPath, stagingDir))
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected staging dir to be empty, found %d entries", len(staged))
	}
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	if err := backendtest.WriteBytes(ctx, a, "file", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.CreateDir(ctx, "dir/"); err != nil {
		t.Fatalf("create_dir: %v", err)
	}
	if err := backendtest.WriteBytes(ctx, a, "dir/child", []byte("y")); err != nil {
		t.Fatalf("write child: %v", err)
	}

	_, err := a.Read(ctx, "dir", backends.ReadOptions{})
	backendtest.RequireKind(t, err, backends.KindIsADirectory)

	_, err = a.List(ctx, "file")
	backendtest.RequireKind(t, err, backends.KindNotADirectory)

	err = backendtest.WriteBytes(ctx, a, "file/child", []byte("z"))
	backendtest.RequireKind(t, err, backends.KindNotADirectory)

	err = backendtest.WriteBytes(ctx, a, "dir", []byte("z"))
	backendtest.RequireKind(t, err, backends.KindIsADirectory)

	backendtest.RequireKind(t, a.Delete(ctx, "dir/"), backends.KindInvalidInput)
	backendtest.RequireKind(t, a.Delete(ctx, "/"), backends.KindPermissionDenied)
}

func TestSymlinkEscapeIsDenied(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(a.rootPath, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := a.Read(ctx, "link/secret", backends.ReadOptions{})
	backendtest.RequireKind(t, err, backends.KindPermissionDenied)
}
