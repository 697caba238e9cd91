// Package log controls how object paths and sizes appear in log output.
package log

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// SanitizationMode selects how much of a path survives into a log line
type SanitizationMode int

const (
	// ProductionMode logs a short hash instead of the path
	ProductionMode SanitizationMode = iota
	// DevelopmentMode keeps the head and tail of long paths
	DevelopmentMode
	// DebugMode logs paths verbatim
	DebugMode
)

func (m SanitizationMode) String() string {
	switch m {
	case DevelopmentMode:
		return "development"
	case DebugMode:
		return "debug"
	default:
		return "production"
	}
}

// ParseMode maps a configuration value to a mode. The empty string selects ProductionMode.
func ParseMode(mode string) (SanitizationMode, error) {
	switch strings.ToLower(mode) {
	case "", "production":
		return ProductionMode, nil
	case "development":
		return DevelopmentMode, nil
	case "debug":
		return DebugMode, nil
	default:
		return ProductionMode, fmt.Errorf("unknown log sanitization mode %q", mode)
	}
}

// Sanitizer rewrites user data before it reaches a log line
type Sanitizer struct {
	mode SanitizationMode
}

// NewSanitizer returns a sanitizer for mode
func NewSanitizer(mode SanitizationMode) Sanitizer {
	return Sanitizer{mode: mode}
}

// Mode reports the configured mode
func (s Sanitizer) Mode() SanitizationMode {
	return s.mode
}

// Path sanitizes object paths for logging based on the configured mode
func (s Sanitizer) Path(path string) string {
	if path == "" {
		return ""
	}

	switch s.mode {
	case DevelopmentMode:
		if len(path) <= 20 {
			return path
		}
		return path[:10] + "..." + path[len(path)-7:]
	case DebugMode:
		return path
	default:
		hash := sha256.Sum256([]byte(path))
		return fmt.Sprintf("hash:%x", hash[:8])
	}
}

// Size rounds sizes to the nearest KB in production mode
func (s Sanitizer) Size(size int64) int64 {
	if s.mode == ProductionMode {
		return (size + 512) / 1024 * 1024
	}
	return size
}
