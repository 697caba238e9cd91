// Package metadata defines the object metadata model shared by every accessfs backend.
package metadata

import (
	"strings"
	"time"
)

// Mode describes what kind of object a path refers to
type Mode int

const (
	// Unknown means the backend could not tell what the object is
	Unknown Mode = iota
	// File objects have content that can be read
	File
	// Dir objects can be listed
	Dir
)

// String returns the lower-case name of the mode
func (m Mode) String() string {
	switch m {
	case File:
		return "file"
	case Dir:
		return "dir"
	default:
		return "unknown"
	}
}

// Metadata describes a single object as reported by stat or list.
// ContentLength is only meaningful for File objects; directories report zero.
type Metadata struct {
	Path          string     `json:"path"`
	Mode          Mode       `json:"mode"`
	ContentLength uint64     `json:"content_length"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
}

// IsFile reports whether the object is a regular file
func (m *Metadata) IsFile() bool {
	return m.Mode == File
}

// IsDir reports whether the object is a directory
func (m *Metadata) IsDir() bool {
	return m.Mode == Dir
}

// Name returns the last path element, without any trailing separator
func (m *Metadata) Name() string {
	return BaseName(m.Path)
}

// SetLastModified stores a copy of t as the modification time; zero times are ignored
func (m *Metadata) SetLastModified(t time.Time) *Metadata {
	if t.IsZero() {
		return m
	}
	t = t.UTC()
	m.LastModified = &t
	return m
}

// NewFile returns metadata for a file of the given size
func NewFile(path string, size uint64) *Metadata {
	return &Metadata{Path: path, Mode: File, ContentLength: size}
}

// NewDir returns metadata for a directory. The path always carries a trailing slash.
func NewDir(path string) *Metadata {
	return &Metadata{Path: DirPath(path), Mode: Dir}
}

// DirEntry is one child produced while listing a directory
type DirEntry struct {
	Path string `json:"path"`
	Mode Mode   `json:"mode"`
}

// Name returns the entry's last path element
func (e DirEntry) Name() string {
	return BaseName(e.Path)
}

// DirPath appends a trailing slash to non-root paths that do not have one
func DirPath(path string) string {
	if path == "" || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// BaseName returns the last element of a slash separated path
func BaseName(path string) string {
	p := strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
