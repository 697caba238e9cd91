package layers

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/backends/backendtest"
	"github.com/ebogdum/accessfs/backends/memory"
	corelog "github.com/ebogdum/accessfs/core/log"
	"github.com/ebogdum/accessfs/metadata"
	"github.com/ebogdum/accessfs/metrics"
)

func fastRetry(attempts uint) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.1,
		MaxElapsed:      time.Second,
	}
}

// recordingRecorder keeps every event in memory
type recordingRecorder struct {
	mu        sync.Mutex
	ops       []metrics.Operation
	transfers []metrics.Transfer
}

func (r *recordingRecorder) RecordOperation(op metrics.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	return nil
}

func (r *recordingRecorder) RecordTransfer(t metrics.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, t)
	return nil
}

// brokenRecorder fails every call, panicking on transfers
type brokenRecorder struct{}

func (brokenRecorder) RecordOperation(metrics.Operation) error {
	return errors.New("collector unavailable")
}

func (brokenRecorder) RecordTransfer(metrics.Transfer) error {
	panic("collector exploded")
}

// flakyAccessor fails Stat with the configured error until failures runs out
type flakyAccessor struct {
	backends.Accessor
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyAccessor) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.Accessor.Stat(ctx, path)
}

func TestLayerTransparency(t *testing.T) {
	backendtest.RunSuite(t, func(t *testing.T) backends.Accessor {
		return backends.Chain(memory.NewMemoryAdapter("layered"),
			NewLogging(zap.NewNop(), DefaultLoggingConfig()),
			NewMetrics(&recordingRecorder{}, nil),
			NewRetry(fastRetry(3), nil),
			NewThrottle(1e6, 1000),
		)
	})
}

func TestRetryBound(t *testing.T) {
	transient := backends.Failure(backends.OpStat, "x", errors.New("connection reset"))

	tests := []struct {
		name      string
		failures  int32
		err       error
		wantCalls int32
		wantKind  backends.Kind
		wantOK    bool
	}{
		{"always failing stops at max attempts", 100, transient, 3, backends.KindBackendFailure, false},
		{"recovers before the bound", 2, transient, 3, 0, true},
		{"not found is not retried", 100, backends.NotFound(backends.OpStat, "x"), 1, backends.KindObjectNotFound, false},
		{"permission denied is not retried", 100, backends.NewError(backends.KindPermissionDenied, backends.OpStat, "x", nil), 1, backends.KindPermissionDenied, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.NewMemoryAdapter("retry")
			if err := backendtest.WriteBytes(context.Background(), mem, "x", []byte("data")); err != nil {
				t.Fatalf("seed: %v", err)
			}
			flaky := &flakyAccessor{Accessor: mem, failures: tt.failures, err: tt.err}
			acc := NewRetry(fastRetry(3), nil).Layer(flaky)

			md, err := acc.Stat(context.Background(), "x")
			if got := flaky.calls.Load(); got != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, got)
			}
			if tt.wantOK {
				if err != nil || md == nil || md.ContentLength != 4 {
					t.Fatalf("expected success, got %v %v", md, err)
				}
				return
			}
			backendtest.RequireKind(t, err, tt.wantKind)
		})
	}
}

func TestRetryElapsedCap(t *testing.T) {
	tests := []struct {
		name       string
		maxElapsed time.Duration
		want       time.Duration
	}{
		{"explicit cap", 30 * time.Second, 30 * time.Second},
		{"zero removes the cap", 0, noElapsedCap},
		{"negative removes the cap", -time.Second, noElapsedCap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RetryConfig{MaxElapsed: tt.maxElapsed}.withDefaults()
			if got := cfg.elapsedCap(); got != tt.want {
				t.Errorf("elapsedCap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryWithoutElapsedCapUsesAllAttempts(t *testing.T) {
	flaky := &flakyAccessor{
		Accessor: memory.NewMemoryAdapter("uncapped"),
		failures: 1000,
		err:      backends.Failure(backends.OpStat, "x", errors.New("connection reset")),
	}
	cfg := fastRetry(5)
	cfg.MaxElapsed = 0
	_, err := NewRetry(cfg, nil).Layer(flaky).Stat(context.Background(), "x")
	backendtest.RequireKind(t, err, backends.KindBackendFailure)
	if got := flaky.calls.Load(); got != 5 {
		t.Errorf("expected 5 attempts, got %d", got)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	flaky := &flakyAccessor{
		Accessor: memory.NewMemoryAdapter("cancel"),
		failures: 1000,
		err:      backends.Failure(backends.OpStat, "x", errors.New("timeout")),
	}
	cfg := fastRetry(1000)
	cfg.InitialInterval = 50 * time.Millisecond
	cfg.MaxInterval = 50 * time.Millisecond
	cfg.MaxElapsed = 0
	acc := NewRetry(cfg, nil).Layer(flaky)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := acc.Stat(ctx, "x")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("retry ignored cancellation, ran for %v", elapsed)
	}
	backendtest.RequireKind(t, err, backends.KindBackendFailure)
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected the last backend error to surface, got %v", err)
	}
}

func TestMetricsRecordsOperationsAndBytes(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{}
	acc := NewMetrics(rec, nil).Layer(memory.NewMemoryAdapter("metrics"))

	if err := backendtest.WriteBytes(ctx, acc, "a.txt", []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := backendtest.ReadBytes(ctx, acc, "a.txt", backends.ReadOptions{}); err != nil {
		t.Fatalf("read: %v", err)
	}
	_, _ = acc.Stat(ctx, "missing")

	if len(rec.ops) != 3 {
		t.Fatalf("expected 3 operations, got %+v", rec.ops)
	}
	if rec.ops[0].Op != backends.OpWrite || rec.ops[0].Scheme != "memory" || rec.ops[0].Outcome != metrics.OutcomeOK {
		t.Errorf("unexpected write event %+v", rec.ops[0])
	}
	if rec.ops[2].Outcome != backends.KindObjectNotFound.String() {
		t.Errorf("expected not found outcome, got %q", rec.ops[2].Outcome)
	}

	if len(rec.transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %+v", rec.transfers)
	}
	for _, tr := range rec.transfers {
		if tr.Bytes != 5 {
			t.Errorf("expected 5 bytes for %s, got %d", tr.Direction, tr.Bytes)
		}
	}
}

func TestMetricsFailureNeverFailsOperation(t *testing.T) {
	ctx := context.Background()
	acc := NewMetrics(brokenRecorder{}, nil).Layer(memory.NewMemoryAdapter("broken"))

	if err := backendtest.WriteBytes(ctx, acc, "a", []byte("abc")); err != nil {
		t.Fatalf("write failed because of the recorder: %v", err)
	}
	got, err := backendtest.ReadBytes(ctx, acc, "a", backends.ReadOptions{})
	if err != nil || string(got) != "abc" {
		t.Fatalf("read failed because of the recorder: %q %v", got, err)
	}
}

func TestMetricsSkipsAbortedWrites(t *testing.T) {
	rec := &recordingRecorder{}
	acc := NewMetrics(rec, nil).Layer(memory.NewMemoryAdapter("abort"))

	w, err := acc.Write(context.Background(), "a", backends.WriteOptions{})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _ = io.WriteString(w, "discard me")
	if err := w.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(rec.transfers) != 0 {
		t.Errorf("aborted write must not count bytes, got %+v", rec.transfers)
	}
}

func TestLoggingLevelsAndSanitization(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := LoggingConfig{
		SuccessLevel:  zapcore.InfoLevel,
		FailureLevel:  zapcore.ErrorLevel,
		NotFoundLevel: zapcore.DebugLevel,
		Sanitizer:     corelog.NewSanitizer(corelog.ProductionMode),
	}
	acc := NewLogging(zap.New(core), cfg).Layer(memory.NewMemoryAdapter("logging"))

	if err := backendtest.WriteBytes(ctx, acc, "secret/file.txt", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _ = acc.Stat(ctx, "missing")
	_ = acc.Delete(ctx, "")

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.InfoLevel, zapcore.InfoLevel, zapcore.DebugLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entry %d (%s): level %s, want %s", i, e.Message, e.Level, wantLevels[i])
		}
		if p, ok := e.ContextMap()["path"].(string); ok && strings.Contains(p, "secret") {
			t.Errorf("entry %d leaked path %q", i, p)
		}
	}
	if kind := entries[3].ContextMap()["kind"]; kind != backends.KindPermissionDenied.String() {
		t.Errorf("expected permission_denied kind, got %v", kind)
	}
}

func TestThrottleHonoursContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	acc := NewThrottleWithLimiter(limiter).Layer(memory.NewMemoryAdapter("throttle"))

	if err := acc.CreateDir(context.Background(), "d/"); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := acc.CreateDir(ctx, "e/")
	backendtest.RequireKind(t, err, backends.KindBackendFailure)
}
