package layers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/metadata"
	"github.com/ebogdum/accessfs/metrics"
)

// NewMetrics returns a layer that reports every call and every transferred
// byte to rec. A nil recorder selects the Prometheus recorder. Recorder errors
// and panics are logged at debug level and otherwise ignored.
func NewMetrics(rec metrics.Recorder, logger *zap.Logger) backends.Layer {
	if rec == nil {
		rec = metrics.NewPrometheusRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return backends.LayerFunc(func(inner backends.Accessor) backends.Accessor {
		return &metricsAccessor{
			Accessor: inner,
			scheme:   inner.Info().Scheme,
			rec:      rec,
			logger:   logger,
		}
	})
}

type metricsAccessor struct {
	backends.Accessor
	scheme string
	rec    metrics.Recorder
	logger *zap.Logger
}

func (m *metricsAccessor) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	start := time.Now()
	r, err := m.Accessor.Read(ctx, path, opts)
	m.observe(backends.OpRead, path, start, err)
	if err != nil {
		return nil, err
	}
	return &countingReader{Reader: r, m: m, path: path}, nil
}

func (m *metricsAccessor) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	start := time.Now()
	w, err := m.Accessor.Write(ctx, path, opts)
	m.observe(backends.OpWrite, path, start, err)
	if err != nil {
		return nil, err
	}
	return &countingWriter{Writer: w, m: m, path: path}, nil
}

func (m *metricsAccessor) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	start := time.Now()
	md, err := m.Accessor.Stat(ctx, path)
	m.observe(backends.OpStat, path, start, err)
	return md, err
}

func (m *metricsAccessor) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := m.Accessor.Delete(ctx, path)
	m.observe(backends.OpDelete, path, start, err)
	return err
}

func (m *metricsAccessor) CreateDir(ctx context.Context, path string) error {
	start := time.Now()
	err := m.Accessor.CreateDir(ctx, path)
	m.observe(backends.OpCreateDir, path, start, err)
	return err
}

func (m *metricsAccessor) List(ctx context.Context, path string) (backends.Lister, error) {
	start := time.Now()
	l, err := m.Accessor.List(ctx, path)
	m.observe(backends.OpList, path, start, err)
	return l, err
}

func (m *metricsAccessor) observe(op, path string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = backends.KindOf(err).String()
	}
	event := metrics.Operation{
		Scheme:   m.scheme,
		Op:       op,
		Path:     path,
		Duration: time.Since(start),
		Outcome:  outcome,
	}
	m.safely(op, func() error { return m.rec.RecordOperation(event) })
}

func (m *metricsAccessor) transfer(op, path, direction string, n int64) {
	event := metrics.Transfer{
		Scheme:    m.scheme,
		Op:        op,
		Path:      path,
		Direction: direction,
		Bytes:     n,
	}
	m.safely(op, func() error { return m.rec.RecordTransfer(event) })
}

// safely runs a recorder call, absorbing both errors and panics
func (m *metricsAccessor) safely(op string, record func() error) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Debug("Metrics recorder panicked", zap.String("operation", op), zap.Any("panic", p))
		}
	}()
	if err := record(); err != nil {
		m.logger.Debug("Metrics recorder failed", zap.String("operation", op), zap.Error(err))
	}
}

type countingReader struct {
	backends.Reader
	m    *metricsAccessor
	path string
	n    int64
	once sync.Once
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *countingReader) Close() error {
	err := r.Reader.Close()
	r.once.Do(func() { r.m.transfer(backends.OpRead, r.path, metrics.DirectionRead, r.n) })
	return err
}

type countingWriter struct {
	backends.Writer
	m    *metricsAccessor
	path string
	n    int64
	once sync.Once
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.n += int64(n)
	return n, err
}

// Close reports the written bytes only when the object was committed
func (w *countingWriter) Close() error {
	err := w.Writer.Close()
	if err == nil {
		w.once.Do(func() { w.m.transfer(backends.OpWrite, w.path, metrics.DirectionWrite, w.n) })
	}
	return err
}

func (w *countingWriter) Abort() error {
	return w.Writer.Abort()
}
