package log

import (
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    SanitizationMode
		wantErr bool
	}{
		{"", ProductionMode, false},
		{"Production", ProductionMode, false},
		{"development", DevelopmentMode, false},
		{"DEBUG", DebugMode, false},
		{"verbose", ProductionMode, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSanitizerPath(t *testing.T) {
	long := "projects/secret/reports/quarterly.pdf"

	prod := NewSanitizer(ProductionMode).Path(long)
	if !strings.HasPrefix(prod, "hash:") || strings.Contains(prod, "secret") {
		t.Errorf("production path leaked: %q", prod)
	}
	if NewSanitizer(ProductionMode).Path(long) != prod {
		t.Error("production hashing must be stable")
	}

	if got := NewSanitizer(DevelopmentMode).Path(long); got != "projects/s...rly.pdf" {
		t.Errorf("development path = %q", got)
	}
	if got := NewSanitizer(DevelopmentMode).Path("short.txt"); got != "short.txt" {
		t.Errorf("short development path = %q", got)
	}
	if got := NewSanitizer(DebugMode).Path(long); got != long {
		t.Errorf("debug path = %q", got)
	}
	if got := NewSanitizer(ProductionMode).Path(""); got != "" {
		t.Errorf("empty path = %q", got)
	}
}

func TestSanitizerSize(t *testing.T) {
	if got := NewSanitizer(ProductionMode).Size(1500); got != 1024 {
		t.Errorf("production size = %d", got)
	}
	if got := NewSanitizer(DebugMode).Size(1500); got != 1500 {
		t.Errorf("debug size = %d", got)
	}
}
