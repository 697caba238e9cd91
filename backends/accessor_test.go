package backends

import (
	"context"
	"errors"
	"io"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/ebogdum/accessfs/metadata"
)

func TestRangeBounds(t *testing.T) {
	tests := []struct {
		name       string
		r          Range
		size       int64
		start, end int64
		header     string
	}{
		{"prefix", Range{Offset: 0, Length: 5}, 12, 0, 5, "bytes=0-4"},
		{"to end", Range{Offset: 7, Length: -1}, 12, 7, 12, "bytes=7-"},
		{"past end", Range{Offset: 7, Length: 100}, 12, 7, 12, "bytes=7-106"},
		{"offset beyond size", Range{Offset: 20, Length: 3}, 12, 12, 12, "bytes=20-22"},
		{"huge length", Range{Offset: 7, Length: math.MaxInt64}, 12, 7, 12, "bytes=7-"},
		{"huge length from start", Range{Offset: 0, Length: math.MaxInt64}, 12, 0, 12, "bytes=0-9223372036854775806"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.r.Bounds(tt.size)
			if start != tt.start || end != tt.end {
				t.Errorf("Bounds(%d) = [%d, %d), want [%d, %d)", tt.size, start, end, tt.start, tt.end)
			}
			if got := tt.r.HeaderValue(); got != tt.header {
				t.Errorf("HeaderValue() = %q, want %q", got, tt.header)
			}
		})
	}

	if (Range{Offset: -1, Length: 1}).Validate() == nil {
		t.Error("negative offset must be rejected")
	}
	if (Range{Offset: 0, Length: 0}).Validate() == nil {
		t.Error("zero length must be rejected")
	}
}

func TestInfoCheck(t *testing.T) {
	info := Info{Scheme: "test", Capabilities: CapRead | CapStat}

	if err := info.Check(OpRead, "a"); err != nil {
		t.Errorf("read is supported: %v", err)
	}
	if err := info.Check(OpWrite, "a"); !IsKind(err, KindUnsupported) {
		t.Errorf("expected unsupported for write, got %v", err)
	}
	if got := info.Capabilities.String(); got != "read|stat" {
		t.Errorf("unexpected capability string %q", got)
	}
	if got := Capability(0).String(); got != "none" {
		t.Errorf("unexpected empty capability string %q", got)
	}
}

type traceAccessor struct {
	Accessor
	name  string
	trace *[]string
}

func (a *traceAccessor) Delete(ctx context.Context, path string) error {
	*a.trace = append(*a.trace, a.name)
	if a.Accessor == nil {
		return nil
	}
	return a.Accessor.Delete(ctx, path)
}

func tracing(name string, trace *[]string) Layer {
	return LayerFunc(func(inner Accessor) Accessor {
		return &traceAccessor{Accessor: inner, name: name, trace: trace}
	})
}

func TestChainOrder(t *testing.T) {
	var trace []string
	backend := &traceAccessor{name: "backend", trace: &trace}

	acc := Chain(backend, tracing("l1", &trace), nil, tracing("l2", &trace), tracing("l3", &trace))
	if err := acc.Delete(context.Background(), "x"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{"l1", "l2", "l3", "backend"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("call order %v, want %v", trace, want)
	}
	if Chain(backend) != Accessor(backend) {
		t.Error("an empty chain must return the backend itself")
	}
}

func TestSizedReader(t *testing.T) {
	ctx := context.Background()

	r := NewSizedReader(ctx, io.NopCloser(strings.NewReader("hello world")), "p", 5)
	got, err := io.ReadAll(r)
	if err != nil || string(got) != "hello" {
		t.Fatalf("expected the declared prefix, got %q %v", got, err)
	}

	short := NewSizedReader(ctx, io.NopCloser(strings.NewReader("abc")), "p", 10)
	_, err = io.ReadAll(short)
	if !IsKind(err, KindBackendFailure) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF failure, got %v", err)
	}

	unchecked := NewSizedReader(ctx, io.NopCloser(strings.NewReader("abc")), "p", -1)
	if got, err := io.ReadAll(unchecked); err != nil || string(got) != "abc" {
		t.Fatalf("unchecked reader: %q %v", got, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	cancelled := NewSizedReader(cctx, io.NopCloser(strings.NewReader("abc")), "p", 3)
	if _, err := cancelled.Read(make([]byte, 3)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestBufferWriter(t *testing.T) {
	ctx := context.Background()
	var committed []byte
	commit := func(ctx context.Context, data []byte) error {
		committed = append([]byte(nil), data...)
		return nil
	}

	w := NewBufferWriter(ctx, "p", WriteOptions{ContentLength: 3}, commit)
	_, _ = w.Write([]byte("abc"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(committed) != "abc" {
		t.Errorf("committed %q", committed)
	}
	if _, err := w.Write([]byte("x")); !IsKind(err, KindInvalidInput) || !errors.Is(err, ErrWriterDone) {
		t.Errorf("write after close: %v", err)
	}

	committed = nil
	mismatch := NewBufferWriter(ctx, "p", WriteOptions{ContentLength: 10}, commit)
	_, _ = mismatch.Write([]byte("abc"))
	if err := mismatch.Close(); !IsKind(err, KindInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if committed != nil {
		t.Error("mismatched content must not be committed")
	}

	for _, length := range []int64{0, UnknownLength} {
		committed = nil
		unsized := NewBufferWriter(ctx, "p", WriteOptions{ContentLength: length}, commit)
		_, _ = unsized.Write([]byte("abc"))
		if err := unsized.Close(); err != nil {
			t.Fatalf("content length %d is unknown and must not be checked: %v", length, err)
		}
		if string(committed) != "abc" {
			t.Errorf("content length %d: committed %q", length, committed)
		}
	}

	failing := NewBufferWriter(ctx, "p", WriteOptions{}, func(context.Context, []byte) error {
		return errors.New("disk full")
	})
	if err := failing.Close(); !IsKind(err, KindBackendFailure) {
		t.Errorf("commit failure: %v", err)
	}
}

func TestCheckLength(t *testing.T) {
	tests := []struct {
		name              string
		expected, written int64
		wantErr           bool
	}{
		{"match", 3, 3, false},
		{"short", 10, 3, true},
		{"long", 2, 3, true},
		{"zero is unknown", 0, 3, false},
		{"unknown", UnknownLength, 3, false},
		{"empty and unknown", UnknownLength, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLength("p", tt.expected, tt.written)
			if tt.wantErr != (err != nil) {
				t.Fatalf("CheckLength(%d, %d) = %v", tt.expected, tt.written, err)
			}
			if err != nil && !IsKind(err, KindInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestPageLister(t *testing.T) {
	pages := map[string][]metadata.DirEntry{
		"":   {{Path: "a", Mode: metadata.File}},
		"p2": {{Path: "b/", Mode: metadata.Dir}},
	}
	next := map[string]string{"": "p2", "p2": ""}
	fetches := 0

	l := NewPageLister(func(ctx context.Context, token string) ([]metadata.DirEntry, string, error) {
		fetches++
		return pages[token], next[token], nil
	})
	if fetches != 0 {
		t.Fatal("pages must be fetched lazily")
	}

	entries, err := ListAll(context.Background(), l)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Path != "a" || entries[1].Path != "b/" {
		t.Errorf("unexpected entries %+v", entries)
	}
	if fetches != 2 {
		t.Errorf("expected 2 fetches, got %d", fetches)
	}
}
