// Package backendtest provides a conformance suite that every accessfs backend runs
// from its own tests. It exercises the accessor contract directly, without an Operator.
package backendtest

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/metadata"
)

// Factory returns a fresh accessor for one test. The suite closes it.
type Factory func(t *testing.T) backends.Accessor

// RunSuite runs every contract check against accessors produced by newAccessor.
// All paths live under a random directory so shared remote backends can be used.
func RunSuite(t *testing.T, newAccessor Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, acc backends.Accessor, base string)
	}{
		{"RoundTrip", testRoundTrip},
		{"OverwriteReplacesContent", testOverwrite},
		{"StatFile", testStatFile},
		{"StatMissing", testStatMissing},
		{"ReadMissing", testReadMissing},
		{"IdempotentDelete", testIdempotentDelete},
		{"AbortedWriteIsInvisible", testAbortedWrite},
		{"AbandonedWriteIsInvisible", testAbandonedWrite},
		{"ContentLengthMismatch", testContentLengthMismatch},
		{"WriterRejectsUseAfterClose", testWriterUseAfterClose},
		{"CreateDirIdempotent", testCreateDirIdempotent},
		{"CreateDirOverFile", testCreateDirOverFile},
		{"DirectoryPathNamingFile", testDirectoryPathNamingFile},
		{"ListCompleteness", testListCompleteness},
		{"ListMissing", testListMissing},
		{"RangedRead", testRangedRead},
		{"CancelledRead", testCancelledRead},
		{"ConcurrentWriters", testConcurrentWriters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newAccessor(t)
			t.Cleanup(func() {
				if err := acc.Close(); err != nil {
					t.Errorf("close accessor: %v", err)
				}
			})
			tt.fn(t, acc, "accessfs-test-"+uuid.NewString()+"/")
		})
	}
}

// WriteBytes writes data to path and finalizes the writer
func WriteBytes(ctx context.Context, acc backends.Accessor, path string, data []byte) error {
	w, err := acc.Write(ctx, path, backends.WriteOptions{ContentLength: int64(len(data))})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// ReadBytes drains the object at path
func ReadBytes(ctx context.Context, acc backends.Accessor, path string, opts backends.ReadOptions) ([]byte, error) {
	r, err := acc.Read(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// RequireKind fails the test unless err has the given kind
func RequireKind(t *testing.T, err error, kind backends.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := backends.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s: %v", kind, got, err)
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("generate payload: %v", err)
	}
	return b
}

func testRoundTrip(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	payloads := map[string][]byte{
		"empty":  {},
		"small":  []byte("Hello, World!"),
		"binary": randomBytes(t, 256*1024+7),
	}
	for name, payload := range payloads {
		path := base + name
		if err := WriteBytes(ctx, acc, path, payload); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		got, err := ReadBytes(ctx, acc, path, backends.ReadOptions{})
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip of %s returned %d bytes, want %d", name, len(got), len(payload))
		}
	}
}

func testOverwrite(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "overwrite.txt"
	if err := WriteBytes(ctx, acc, path, []byte("first version, longer")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteBytes(ctx, acc, path, []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := ReadBytes(ctx, acc, path, backends.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected overwritten content, got %q", got)
	}
}

func testStatFile(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "stat/file.bin"
	if err := WriteBytes(ctx, acc, path, []byte("0123456789")); err != nil {
		t.Fatalf("write: %v", err)
	}

	md, err := acc.Stat(ctx, path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if md.Mode != metadata.File {
		t.Errorf("expected file mode, got %s", md.Mode)
	}
	if md.ContentLength != 10 {
		t.Errorf("expected content length 10, got %d", md.ContentLength)
	}

	dir, err := acc.Stat(ctx, base+"stat/")
	if err != nil {
		t.Fatalf("stat parent: %v", err)
	}
	if dir.Mode != metadata.Dir {
		t.Errorf("expected parent to be a directory, got %s", dir.Mode)
	}
}

func testStatMissing(t *testing.T, acc backends.Accessor, base string) {
	_, err := acc.Stat(context.Background(), base+"does-not-exist")
	RequireKind(t, err, backends.KindObjectNotFound)
}

func testReadMissing(t *testing.T, acc backends.Accessor, base string) {
	_, err := ReadBytes(context.Background(), acc, base+"does-not-exist", backends.ReadOptions{})
	RequireKind(t, err, backends.KindObjectNotFound)
}

func testIdempotentDelete(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "delete-me"
	if err := WriteBytes(ctx, acc, path, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := acc.Delete(ctx, path); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
		_, err := acc.Stat(ctx, path)
		RequireKind(t, err, backends.KindObjectNotFound)
	}
	if err := acc.Delete(ctx, base+"never-existed"); err != nil {
		t.Fatalf("delete of missing path: %v", err)
	}
}

func testAbortedWrite(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "aborted"
	w, err := acc.Write(ctx, path, backends.WriteOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.Write([]byte("partial content")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	_, err = acc.Stat(ctx, path)
	RequireKind(t, err, backends.KindObjectNotFound)
	_, err = ReadBytes(ctx, acc, path, backends.ReadOptions{})
	RequireKind(t, err, backends.KindObjectNotFound)
}

func testAbandonedWrite(t *testing.T, acc backends.Accessor, base string) {
	ctx, cancel := context.WithCancel(context.Background())
	path := base + "abandoned"
	w, err := acc.Write(ctx, path, backends.WriteOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.Write([]byte("never finalized")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The writer is dropped without Close; cancelling the context releases it
	cancel()

	_, err = acc.Stat(context.Background(), path)
	RequireKind(t, err, backends.KindObjectNotFound)
}

func testContentLengthMismatch(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "short"
	w, err := acc.Write(ctx, path, backends.WriteOptions{ContentLength: 10})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	RequireKind(t, w.Close(), backends.KindInvalidInput)

	_, err = acc.Stat(ctx, path)
	RequireKind(t, err, backends.KindObjectNotFound)
}

func testWriterUseAfterClose(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	w, err := acc.Write(ctx, base+"closed", backends.WriteOptions{})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if _, err := w.Write([]byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = w.Write([]byte("more"))
	RequireKind(t, err, backends.KindInvalidInput)
}

func testCreateDirIdempotent(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	dir := base + "made/"
	for i := 0; i < 2; i++ {
		if err := acc.CreateDir(ctx, dir); err != nil {
			t.Fatalf("create_dir #%d: %v", i+1, err)
		}
	}
	md, err := acc.Stat(ctx, dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if md.Mode != metadata.Dir {
		t.Fatalf("expected directory, got %s", md.Mode)
	}
}

func testCreateDirOverFile(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "plain"
	if err := WriteBytes(ctx, acc, path, []byte("file")); err != nil {
		t.Fatalf("write: %v", err)
	}
	RequireKind(t, acc.CreateDir(ctx, path+"/"), backends.KindAlreadyExists)
}

// testDirectoryPathNamingFile checks that "f/" never resolves to the file "f"
func testDirectoryPathNamingFile(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "plainfile"
	if err := WriteBytes(ctx, acc, path, []byte("file")); err != nil {
		t.Fatalf("write: %v", err)
	}
	dirPath := path + "/"

	_, err := acc.Stat(ctx, dirPath)
	RequireKind(t, err, backends.KindNotADirectory)

	_, err = ReadBytes(ctx, acc, dirPath, backends.ReadOptions{})
	RequireKind(t, err, backends.KindNotADirectory)

	_, err = acc.List(ctx, dirPath)
	RequireKind(t, err, backends.KindNotADirectory)

	RequireKind(t, acc.Delete(ctx, dirPath), backends.KindNotADirectory)
	md, err := acc.Stat(ctx, path)
	if err != nil {
		t.Fatalf("file must survive a delete of its directory path: %v", err)
	}
	if md.Mode != metadata.File {
		t.Errorf("expected file mode, got %s", md.Mode)
	}
}

func testListCompleteness(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	dir := base + "listing/"
	if err := acc.CreateDir(ctx, dir); err != nil {
		t.Fatalf("create_dir: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if err := WriteBytes(ctx, acc, dir+name, []byte(name)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := acc.CreateDir(ctx, dir+"c/"); err != nil {
		t.Fatalf("create_dir c: %v", err)
	}
	if err := WriteBytes(ctx, acc, dir+"c/nested", []byte("deep")); err != nil {
		t.Fatalf("write nested: %v", err)
	}

	want := []string{dir + "a", dir + "b", dir + "c/"}
	for round := 0; round < 2; round++ {
		lister, err := acc.List(ctx, dir)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		entries, err := backends.ListAll(ctx, lister)
		if err != nil {
			t.Fatalf("drain list: %v", err)
		}
		var got []string
		for _, e := range entries {
			got = append(got, e.Path)
			wantMode := metadata.File
			if e.Path == dir+"c/" {
				wantMode = metadata.Dir
			}
			if e.Mode != wantMode {
				t.Errorf("entry %s has mode %s, want %s", e.Path, e.Mode, wantMode)
			}
		}
		sort.Strings(got)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("round %d: listed %v, want %v", round, got, want)
		}
	}
}

func testListMissing(t *testing.T, acc backends.Accessor, base string) {
	_, err := acc.List(context.Background(), base+"nowhere/")
	RequireKind(t, err, backends.KindObjectNotFound)
}

func testRangedRead(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	path := base + "ranged"
	if err := WriteBytes(ctx, acc, path, []byte("Hello, World!")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !acc.Info().Capabilities.Has(backends.CapRangedRead) {
		_, err := acc.Read(ctx, path, backends.ReadOptions{Range: &backends.Range{Offset: 1, Length: 1}})
		RequireKind(t, err, backends.KindUnsupported)
		return
	}

	tests := []struct {
		rng  backends.Range
		want string
	}{
		{backends.Range{Offset: 0, Length: 5}, "Hello"},
		{backends.Range{Offset: 7, Length: -1}, "World!"},
		{backends.Range{Offset: 7, Length: 100}, "World!"},
		{backends.Range{Offset: 1, Length: 1}, "e"},
		{backends.Range{Offset: 7, Length: math.MaxInt64}, "World!"},
		{backends.Range{Offset: 0, Length: math.MaxInt64}, "Hello, World!"},
	}
	for _, tt := range tests {
		rng := tt.rng
		got, err := ReadBytes(ctx, acc, path, backends.ReadOptions{Range: &rng})
		if err != nil {
			t.Fatalf("read %+v: %v", rng, err)
		}
		if string(got) != tt.want {
			t.Errorf("read %+v = %q, want %q", rng, got, tt.want)
		}
	}

	_, err := acc.Read(ctx, path, backends.ReadOptions{Range: &backends.Range{Offset: -1, Length: 2}})
	RequireKind(t, err, backends.KindInvalidInput)
}

func testCancelledRead(t *testing.T, acc backends.Accessor, base string) {
	path := base + "cancel"
	if err := WriteBytes(context.Background(), acc, path, randomBytes(t, 64*1024)); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r, err := acc.Read(ctx, path, backends.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer r.Close()

	cancel()
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected read to fail after cancellation")
	}

	// Other operations on the same accessor are unaffected
	if _, err := acc.Stat(context.Background(), path); err != nil {
		t.Fatalf("stat after cancelled read: %v", err)
	}
}

func testConcurrentWriters(t *testing.T, acc backends.Accessor, base string) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("%sconcurrent/%d", base, i)
			payload := []byte(fmt.Sprintf("worker %d payload", i))
			if err := WriteBytes(ctx, acc, path, payload); err != nil {
				errs <- err
				return
			}
			got, err := ReadBytes(ctx, acc, path, backends.ReadOptions{})
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, payload) {
				errs <- fmt.Errorf("worker %d read back %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
