// Package pathutil normalizes caller supplied paths into the form backends expect.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/ebogdum/accessfs/backends"
)

// Root is the normalized form of the backend root
const Root = "/"

// Normalize turns a caller supplied path into the normalized backend form:
//   - the root is "/"
//   - every other path has no leading slash and no empty, "." or ".." segments
//   - a trailing slash is kept, since it marks directory intent
//
// Paths that climb above the root or contain control characters are rejected with InvalidInput.
func Normalize(p string) (string, error) {
	if err := ValidatePath(p); err != nil {
		return "", err
	}
	if p == "" || p == Root {
		return Root, nil
	}

	dir := strings.HasSuffix(p, "/")
	depth := 0
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return "", backends.InvalidInput("", p, "path escapes the backend root")
			}
		default:
			depth++
		}
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" {
		return Root, nil
	}
	if dir {
		cleaned += "/"
	}
	return cleaned, nil
}

// ValidatePath rejects paths containing NUL bytes or control characters
func ValidatePath(p string) error {
	for _, char := range p {
		if char < 32 && char != '\t' || char == 0x7f {
			return backends.InvalidInput("", p, "path contains control character %q", char)
		}
	}
	return nil
}

// IsRoot reports whether a normalized path is the backend root
func IsRoot(p string) bool {
	return p == Root || p == ""
}

// IsDir reports whether a normalized path expresses directory intent
func IsDir(p string) bool {
	return IsRoot(p) || strings.HasSuffix(p, "/")
}

// Parent returns the normalized parent directory of p, with a trailing slash, or Root
func Parent(p string) string {
	if IsRoot(p) {
		return Root
	}
	trimmed := strings.TrimSuffix(p, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return Root
	}
	return trimmed[:i+1]
}

// Ancestors returns every directory above p, nearest first, excluding the root
func Ancestors(p string) []string {
	var dirs []string
	for dir := Parent(p); !IsRoot(dir); dir = Parent(dir) {
		dirs = append(dirs, dir)
	}
	return dirs
}

// JoinKey prefixes a normalized path with a backend root prefix, producing an object key without a leading slash.
// The root path maps to the prefix itself.
func JoinKey(prefix, p string) string {
	prefix = strings.Trim(prefix, "/")
	if IsRoot(p) {
		if prefix == "" {
			return ""
		}
		return prefix + "/"
	}
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}

// TrimKey is the inverse of JoinKey
func TrimKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		key = strings.TrimPrefix(key, prefix+"/")
	}
	if key == "" {
		return Root
	}
	return key
}

// SafeJoin joins a filesystem root with a normalized path, ensuring the
// result stays within root even when symlinks are involved.
// Escapes are reported as PermissionDenied.
func SafeJoin(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)

	norm, err := Normalize(rel)
	if err != nil {
		return "", err
	}
	if IsRoot(norm) {
		return cleanRoot, nil
	}

	joined := filepath.Join(cleanRoot, filepath.FromSlash(strings.TrimSuffix(norm, "/")))

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// The target may not exist yet; check the nearest existing parent instead
		dir := filepath.Dir(joined)
		if dir != cleanRoot {
			if resolvedDir, dirErr := filepath.EvalSymlinks(dir); dirErr == nil && !within(cleanRoot, resolvedDir) {
				return "", backends.NewError(backends.KindPermissionDenied, "", rel, nil)
			}
		}
		if !within(cleanRoot, joined) {
			return "", backends.NewError(backends.KindPermissionDenied, "", rel, nil)
		}
		return joined, nil
	}

	if !within(cleanRoot, resolved) {
		return "", backends.NewError(backends.KindPermissionDenied, "", rel, nil)
	}
	return joined, nil
}

func within(root, target string) bool {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = root
	}
	for _, r := range []string{root, resolvedRoot} {
		rel, err := filepath.Rel(r, target)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
