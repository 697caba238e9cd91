package noop

import (
	"context"
	"testing"

	"github.com/ebogdum/accessfs/backends"
)

func TestNoopRejectsEverything(t *testing.T) {
	ctx := context.Background()
	n := NewNoopAdapter("disabled")

	if caps := n.Info().Capabilities; caps != 0 {
		t.Errorf("expected no capabilities, got %s", caps)
	}

	_, readErr := n.Read(ctx, "a", backends.ReadOptions{})
	_, writeErr := n.Write(ctx, "a", backends.WriteOptions{})
	_, statErr := n.Stat(ctx, "a")
	_, listErr := n.List(ctx, "")

	errs := map[string]error{
		"read":       readErr,
		"write":      writeErr,
		"stat":       statErr,
		"delete":     n.Delete(ctx, "a"),
		"create_dir": n.CreateDir(ctx, "d/"),
		"list":       listErr,
	}
	for op, err := range errs {
		if !backends.IsKind(err, backends.KindUnsupported) {
			t.Errorf("%s: expected unsupported, got %v", op, err)
		}
	}

	if err := n.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
