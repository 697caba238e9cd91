// Package backends defines the accessor contract implemented by every accessfs storage backend,
// the layer mechanism that decorates accessors, and the streaming types they share.
// Concrete backends live in subpackages (localfs, memory, s3, redis, sqlite, noop).
package backends

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ebogdum/accessfs/metadata"
)

// Operation names used in errors, logs and metrics
const (
	OpRead      = "read"
	OpWrite     = "write"
	OpStat      = "stat"
	OpDelete    = "delete"
	OpList      = "list"
	OpCreateDir = "create_dir"
)

// Accessor is the capability surface every backend implements.
// Implementations must be safe for concurrent use; an accessor is shared by all
// callers of an Operator and is never mutated after construction.
// Paths handed to an accessor are already normalized (see internal/pathutil).
type Accessor interface {
	// Info returns the static description of the backend
	Info() Info

	// Read opens a reader on the object at path, optionally restricted to a byte range
	Read(ctx context.Context, path string, opts ReadOptions) (Reader, error)

	// Write opens a writer for path. The object becomes visible only when the writer is closed successfully.
	Write(ctx context.Context, path string, opts WriteOptions) (Writer, error)

	// Stat returns metadata for a file or directory
	Stat(ctx context.Context, path string) (*metadata.Metadata, error)

	// Delete removes a file or empty directory. Deleting a missing path succeeds.
	Delete(ctx context.Context, path string) error

	// CreateDir creates a directory. It succeeds if the directory already exists.
	CreateDir(ctx context.Context, path string) error

	// List returns a lazy sequence of the direct children of a directory
	List(ctx context.Context, path string) (Lister, error)

	// Close releases any resources held by the backend
	Close() error
}

// Capability is a bit set of optional features a backend supports
type Capability uint32

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapStat
	CapDelete
	CapList
	CapCreateDir
	// CapRangedRead means Read honours ReadOptions.Range natively
	CapRangedRead
	// CapNativeDir means directories exist independently of their children
	CapNativeDir
	// CapSeek means readers returned by Read also implement io.Seeker
	CapSeek
)

// CapBasic is the set every full read/write backend is expected to declare
const CapBasic = CapRead | CapWrite | CapStat | CapDelete | CapList | CapCreateDir

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapRead, "read"},
	{CapWrite, "write"},
	{CapStat, "stat"},
	{CapDelete, "delete"},
	{CapList, "list"},
	{CapCreateDir, "create_dir"},
	{CapRangedRead, "ranged_read"},
	{CapNativeDir, "native_dir"},
	{CapSeek, "seek"},
}

// Has reports whether every capability in c is present
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.cap) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// CapabilityFor maps an operation name to the capability it requires
func CapabilityFor(op string) Capability {
	switch op {
	case OpRead:
		return CapRead
	case OpWrite:
		return CapWrite
	case OpStat:
		return CapStat
	case OpDelete:
		return CapDelete
	case OpList:
		return CapList
	case OpCreateDir:
		return CapCreateDir
	default:
		return 0
	}
}

// Info is the static description of an accessor
type Info struct {
	// Scheme names the backend type, e.g. "memory", "fs", "s3"
	Scheme       string
	Root         string
	Name         string
	Capabilities Capability
}

func (i Info) String() string {
	return fmt.Sprintf("%s://%s%s", i.Scheme, i.Name, i.Root)
}

// Range selects bytes [Offset, Offset+Length). A negative Length reads to the end of the object.
type Range struct {
	Offset int64
	Length int64
}

// Validate rejects negative offsets and zero lengths
func (r Range) Validate() error {
	if r.Offset < 0 {
		return fmt.Errorf("negative range offset %d", r.Offset)
	}
	if r.Length == 0 {
		return fmt.Errorf("empty range at offset %d", r.Offset)
	}
	return nil
}

// Bounds clamps the range to an object of the given size and returns [start, end)
func (r Range) Bounds(size int64) (start, end int64) {
	start = r.Offset
	if start > size {
		start = size
	}
	end = size
	// Compare against the remaining bytes so huge lengths cannot overflow
	if r.Length > 0 && r.Length < size-start {
		end = start + r.Length
	}
	return start, end
}

// HeaderValue renders the range as an HTTP Range header value.
// Lengths reaching past the largest representable offset are rendered open ended.
func (r Range) HeaderValue() string {
	if r.Length < 0 || r.Length > math.MaxInt64-r.Offset {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// ReadOptions controls a Read call
type ReadOptions struct {
	Range *Range
}

// WriteOptions controls a Write call
type WriteOptions struct {
	// ContentLength is the expected number of bytes. Zero or negative means unknown.
	// When positive, closing a writer that received a different amount fails with InvalidInput.
	ContentLength int64
	ContentType   string
}

// UnknownLength is the ContentLength value meaning "size not known in advance"
const UnknownLength int64 = -1

// Check returns an Unsupported error when the backend lacks the capability required by op
func (i Info) Check(op, path string) error {
	c := CapabilityFor(op)
	if c == 0 || i.Capabilities.Has(c) {
		return nil
	}
	return Unsupported(op, path, op)
}
