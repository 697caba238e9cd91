package layers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ebogdum/accessfs/backends"
	corelog "github.com/ebogdum/accessfs/core/log"
	"github.com/ebogdum/accessfs/metadata"
)

// LoggingConfig selects the levels and path sanitization of the logging layer
type LoggingConfig struct {
	SuccessLevel zapcore.Level
	FailureLevel zapcore.Level
	// NotFoundLevel applies to ObjectNotFound, which is often an expected outcome
	NotFoundLevel zapcore.Level
	Sanitizer     corelog.Sanitizer
}

// DefaultLoggingConfig logs successes at debug and failures at warn with hashed paths
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SuccessLevel:  zapcore.DebugLevel,
		FailureLevel:  zapcore.WarnLevel,
		NotFoundLevel: zapcore.DebugLevel,
		Sanitizer:     corelog.NewSanitizer(corelog.ProductionMode),
	}
}

// NewLogging returns a layer that writes one structured line per call
func NewLogging(logger *zap.Logger, cfg LoggingConfig) backends.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return backends.LayerFunc(func(inner backends.Accessor) backends.Accessor {
		return &loggingAccessor{
			Accessor: inner,
			logger:   logger.With(zap.String("scheme", inner.Info().Scheme)),
			cfg:      cfg,
		}
	})
}

type loggingAccessor struct {
	backends.Accessor
	logger *zap.Logger
	cfg    LoggingConfig
}

func (l *loggingAccessor) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	start := time.Now()
	r, err := l.Accessor.Read(ctx, path, opts)
	fields := []zap.Field{}
	if opts.Range != nil {
		fields = append(fields, zap.Int64("offset", opts.Range.Offset), zap.Int64("length", opts.Range.Length))
	}
	l.log(backends.OpRead, path, start, err, fields...)
	return r, err
}

func (l *loggingAccessor) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	start := time.Now()
	w, err := l.Accessor.Write(ctx, path, opts)
	l.log(backends.OpWrite, path, start, err, zap.Int64("content_length", opts.ContentLength))
	if err != nil {
		return nil, err
	}
	return &loggingWriter{Writer: w, l: l, path: path, start: start}, nil
}

func (l *loggingAccessor) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	start := time.Now()
	md, err := l.Accessor.Stat(ctx, path)
	if err == nil {
		l.log(backends.OpStat, path, start, nil, zap.Stringer("mode", md.Mode))
		return md, nil
	}
	l.log(backends.OpStat, path, start, err)
	return nil, err
}

func (l *loggingAccessor) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := l.Accessor.Delete(ctx, path)
	l.log(backends.OpDelete, path, start, err)
	return err
}

func (l *loggingAccessor) CreateDir(ctx context.Context, path string) error {
	start := time.Now()
	err := l.Accessor.CreateDir(ctx, path)
	l.log(backends.OpCreateDir, path, start, err)
	return err
}

func (l *loggingAccessor) List(ctx context.Context, path string) (backends.Lister, error) {
	start := time.Now()
	ls, err := l.Accessor.List(ctx, path)
	l.log(backends.OpList, path, start, err)
	return ls, err
}

func (l *loggingAccessor) log(op, path string, start time.Time, err error, extra ...zap.Field) {
	level, msg := l.cfg.SuccessLevel, "Backend operation succeeded"
	if err != nil {
		level, msg = l.cfg.FailureLevel, "Backend operation failed"
		if backends.IsKind(err, backends.KindObjectNotFound) {
			level = l.cfg.NotFoundLevel
		}
	}

	ce := l.logger.Check(level, msg)
	if ce == nil {
		return
	}
	fields := append([]zap.Field{
		zap.String("operation", op),
		zap.String("path", l.cfg.Sanitizer.Path(path)),
		zap.Duration("duration", time.Since(start)),
	}, extra...)
	if err != nil {
		fields = append(fields, zap.Stringer("kind", backends.KindOf(err)), zap.Error(err))
	}
	ce.Write(fields...)
}

// loggingWriter logs the outcome of finalizing or discarding an object
type loggingWriter struct {
	backends.Writer
	l     *loggingAccessor
	path  string
	start time.Time
	n     int64
}

func (w *loggingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *loggingWriter) Close() error {
	err := w.Writer.Close()
	w.l.log("write_commit", w.path, w.start, err, zap.Int64("size", w.l.cfg.Sanitizer.Size(w.n)))
	return err
}

func (w *loggingWriter) Abort() error {
	err := w.Writer.Abort()
	w.l.log("write_abort", w.path, w.start, err)
	return err
}
