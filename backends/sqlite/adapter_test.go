package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/backends/backendtest"
)

func newTestAdapter(t *testing.T, root string) *SQLiteAdapter {
	t.Helper()
	a, err := NewSQLiteAdapter(Config{Path: filepath.Join(t.TempDir(), "objects.db"), Root: root}, nil)
	if err != nil {
		t.Fatalf("open sqlite adapter: %v", err)
	}
	return a
}

func TestSQLiteAdapterConformance(t *testing.T) {
	backendtest.RunSuite(t, func(t *testing.T) backends.Accessor {
		return newTestAdapter(t, "")
	})
}

func TestSQLiteAdapterConformanceWithRoot(t *testing.T) {
	backendtest.RunSuite(t, func(t *testing.T) backends.Accessor {
		return newTestAdapter(t, "tenant")
	})
}

func TestNewSQLiteAdapterRequiresPath(t *testing.T) {
	if _, err := NewSQLiteAdapter(Config{}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRootsAreIsolated(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "shared.db")

	a, err := NewSQLiteAdapter(Config{Path: dbPath, Root: "a"}, nil)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := NewSQLiteAdapter(Config{Path: dbPath, Root: "b"}, nil)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := backendtest.WriteBytes(ctx, a, "only-in-a", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = b.Stat(ctx, "only-in-a")
	backendtest.RequireKind(t, err, backends.KindObjectNotFound)

	if got := a.Info().Root; got != "/a/" {
		t.Errorf("unexpected root %q", got)
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	a, err := NewSQLiteAdapter(Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := backendtest.WriteBytes(ctx, a, "dir/file", []byte("persisted")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a, err = NewSQLiteAdapter(Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()

	got, err := backendtest.ReadBytes(ctx, a, "dir/file", backends.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("got %q", got)
	}
}

func TestMapSQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want backends.Kind
	}{
		{"readonly", errors.New("attempt to write a readonly database (8)"), backends.KindPermissionDenied},
		{"busy", errors.New("database is locked (5) (SQLITE_BUSY)"), backends.KindBackendFailure},
		{"typed passthrough", backends.InvalidInput(backends.OpDelete, "d", "directory not empty"), backends.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backends.KindOf(mapSQLError(backends.OpWrite, "p", tt.err)); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
