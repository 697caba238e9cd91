package backends

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound(OpRead, "a/b"))

	if !errors.Is(err, ErrObjectNotFound) {
		t.Error("expected errors.Is to match the not found sentinel")
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Error("sentinel of another kind must not match")
	}
	if KindOf(err) != KindObjectNotFound {
		t.Errorf("unexpected kind %s", KindOf(err))
	}
	if KindOf(io.ErrUnexpectedEOF) != KindBackendFailure {
		t.Error("foreign errors are backend failures")
	}

	var be *Error
	if !errors.As(err, &be) || be.Path != "a/b" || be.Op != OpRead {
		t.Errorf("unexpected error details %+v", be)
	}
}

func TestErrorUnwrap(t *testing.T) {
	native := errors.New("connection reset")
	err := Failure(OpWrite, "x", native)
	if !errors.Is(err, native) {
		t.Error("failure must unwrap to the native error")
	}
	if got := err.Error(); got != `write: backend_failure (path "x"): connection reset` {
		t.Errorf("unexpected message %q", got)
	}
}

func TestRetryable(t *testing.T) {
	for kind := range kindNames {
		if got := kind.Retryable(); got != (kind == KindBackendFailure) {
			t.Errorf("%s: Retryable() = %v", kind, got)
		}
	}
}

func TestWithOp(t *testing.T) {
	if WithOp(nil, OpStat, "p") != nil {
		t.Fatal("nil stays nil")
	}

	filled := WithOp(NewError(KindIsADirectory, "", "", nil), OpStat, "p")
	var be *Error
	if !errors.As(filled, &be) || be.Op != OpStat || be.Path != "p" || be.Kind != KindIsADirectory {
		t.Errorf("unexpected filled error %+v", be)
	}

	kept := WithOp(NotFound(OpRead, "orig"), OpStat, "p")
	if !errors.As(kept, &be) || be.Op != OpRead || be.Path != "orig" {
		t.Errorf("existing op and path must be kept, got %+v", be)
	}

	foreign := WithOp(io.ErrClosedPipe, OpWrite, "p")
	if KindOf(foreign) != KindBackendFailure || !errors.Is(foreign, io.ErrClosedPipe) {
		t.Errorf("foreign error not wrapped as failure: %v", foreign)
	}
}
