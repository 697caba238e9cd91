// Package sqlite stores objects as rows of an embedded SQLite database.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

const listPageSize = 500

// Config holds the settings of the sqlite backend
type Config struct {
	Path string
	Root string
}

// SQLiteAdapter implements backends.Accessor on a single objects table.
// Files are stored under their path, directories under their path with a trailing slash.
type SQLiteAdapter struct {
	db     *sql.DB
	root   string
	dbPath string
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteAdapter opens (or creates) the database file and prepares the schema
func NewSQLiteAdapter(cfg Config, logger *zap.Logger) (*SQLiteAdapter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	a := &SQLiteAdapter{
		db:     db,
		root:   strings.Trim(cfg.Root, "/"),
		dbPath: cfg.Path,
		logger: logger,
		now:    time.Now,
	}
	if err := a.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Opened sqlite backend", zap.String("path", cfg.Path))
	return a, nil
}

func (a *SQLiteAdapter) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS objects (
    path TEXT PRIMARY KEY,
    parent TEXT NOT NULL,
    is_dir INTEGER NOT NULL DEFAULT 0,
    content BLOB,
    size INTEGER NOT NULL DEFAULT 0,
    mtime TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_objects_parent ON objects(parent, path);
`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return nil
}

// Info describes the sqlite backend
func (a *SQLiteAdapter) Info() backends.Info {
	return backends.Info{
		Scheme:       "sqlite",
		Root:         "/" + pathutil.JoinKey(a.root, pathutil.Root),
		Name:         a.dbPath,
		Capabilities: backends.CapBasic | backends.CapRangedRead | backends.CapNativeDir,
	}
}

// Close closes the database handle
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// Read loads the object content, slicing it with substr for ranged reads
func (a *SQLiteAdapter) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	if pathutil.IsDir(path) {
		return nil, a.missingOrDir(ctx, backends.OpRead, path)
	}
	if opts.Range != nil {
		if err := opts.Range.Validate(); err != nil {
			return nil, backends.InvalidInput(backends.OpRead, path, "%v", err)
		}
	}

	var size int64
	err := a.db.QueryRowContext(ctx, `SELECT size FROM objects WHERE path = ? AND is_dir = 0`, a.key(path)).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, a.missingOrDir(ctx, backends.OpRead, path)
	}
	if err != nil {
		return nil, mapSQLError(backends.OpRead, path, err)
	}

	start, end := int64(0), size
	if opts.Range != nil {
		start, end = opts.Range.Bounds(size)
	}

	var data []byte
	if start < end {
		err = a.db.QueryRowContext(ctx,
			`SELECT substr(content, ?, ?) FROM objects WHERE path = ? AND is_dir = 0`,
			start+1, end-start, a.key(path),
		).Scan(&data)
		if err != nil {
			return nil, mapSQLError(backends.OpRead, path, err)
		}
	}

	return backends.NewSizedReader(ctx, io.NopCloser(bytes.NewReader(data)), path, int64(len(data))), nil
}

// Write buffers the object and upserts it in one transaction on Close
func (a *SQLiteAdapter) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	if pathutil.IsDir(path) {
		return nil, backends.InvalidInput(backends.OpWrite, path, "cannot write to a directory path")
	}
	return backends.NewBufferWriter(ctx, path, opts, func(ctx context.Context, data []byte) error {
		return a.commit(ctx, path, data)
	}), nil
}

func (a *SQLiteAdapter) commit(ctx context.Context, path string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	return a.inTx(ctx, backends.OpWrite, path, func(tx *sql.Tx) error {
		isDir, err := a.rowExists(ctx, tx, metadata.DirPath(path), true)
		if err != nil {
			return err
		}
		if isDir {
			return backends.NewError(backends.KindIsADirectory, backends.OpWrite, path, nil)
		}

		stamp := a.stamp()
		if err := a.ensureParents(ctx, tx, backends.OpWrite, path, stamp); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO objects (path, parent, is_dir, content, size, mtime)
			VALUES (?, ?, 0, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET content = excluded.content, size = excluded.size, mtime = excluded.mtime`,
			a.key(path), a.key(pathutil.Parent(path)), data, len(data), stamp,
		)
		return err
	})
}

// Stat resolves path as a file first and as a directory second
func (a *SQLiteAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if pathutil.IsRoot(path) {
		return metadata.NewDir(pathutil.Root), nil
	}
	name := strings.TrimSuffix(path, "/")

	var (
		isDir bool
		size  int64
		mtime string
	)
	query := `SELECT is_dir, size, mtime FROM objects WHERE path IN (?, ?) ORDER BY is_dir ASC LIMIT 1`
	err := a.db.QueryRowContext(ctx, query, a.key(name), a.key(name+"/")).Scan(&isDir, &size, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backends.NotFound(backends.OpStat, path)
	}
	if err != nil {
		return nil, mapSQLError(backends.OpStat, path, err)
	}

	if isDir {
		return metadata.NewDir(name).SetLastModified(parseTimestamp(mtime)), nil
	}
	if pathutil.IsDir(path) {
		return nil, backends.NewError(backends.KindNotADirectory, backends.OpStat, path, nil)
	}
	return metadata.NewFile(name, uint64(size)).SetLastModified(parseTimestamp(mtime)), nil
}

// Delete removes a file or an empty directory
func (a *SQLiteAdapter) Delete(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindPermissionDenied, backends.OpDelete, path, nil)
	}
	name := strings.TrimSuffix(path, "/")

	return a.inTx(ctx, backends.OpDelete, path, func(tx *sql.Tx) error {
		if !pathutil.IsDir(path) {
			result, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE path = ? AND is_dir = 0`, a.key(name))
			if err != nil {
				return err
			}
			if n, _ := result.RowsAffected(); n > 0 {
				return nil
			}
		} else {
			isFile, err := a.rowExists(ctx, tx, name, false)
			if err != nil {
				return err
			}
			if isFile {
				return backends.NewError(backends.KindNotADirectory, backends.OpDelete, path, nil)
			}
		}

		dir := a.key(name + "/")
		var children int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE parent = ?`, dir).Scan(&children); err != nil {
			return err
		}
		if children > 0 {
			return backends.InvalidInput(backends.OpDelete, path, "directory not empty")
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE path = ? AND is_dir = 1`, dir)
		return err
	})
}

// CreateDir inserts the directory row and any missing parents
func (a *SQLiteAdapter) CreateDir(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return nil
	}
	dir := metadata.DirPath(path)

	return a.inTx(ctx, backends.OpCreateDir, path, func(tx *sql.Tx) error {
		isFile, err := a.rowExists(ctx, tx, strings.TrimSuffix(dir, "/"), false)
		if err != nil {
			return err
		}
		if isFile {
			return backends.NewError(backends.KindAlreadyExists, backends.OpCreateDir, path, nil)
		}

		stamp := a.stamp()
		if err := a.ensureParents(ctx, tx, backends.OpCreateDir, dir, stamp); err != nil {
			return err
		}
		return a.insertDir(ctx, tx, dir, stamp)
	})
}

// List pages through the direct children of a directory in path order
func (a *SQLiteAdapter) List(ctx context.Context, path string) (backends.Lister, error) {
	dir := pathutil.Root
	if !pathutil.IsRoot(path) {
		name := strings.TrimSuffix(path, "/")
		dir = name + "/"

		isDir, err := a.rowExists(ctx, a.db, dir, true)
		if err != nil {
			return nil, mapSQLError(backends.OpList, path, err)
		}
		if !isDir {
			isFile, err := a.rowExists(ctx, a.db, name, false)
			if err != nil {
				return nil, mapSQLError(backends.OpList, path, err)
			}
			if isFile {
				return nil, backends.NewError(backends.KindNotADirectory, backends.OpList, path, nil)
			}
			return nil, backends.NotFound(backends.OpList, path)
		}
	}

	parent := a.key(dir)
	return backends.NewPageLister(func(ctx context.Context, after string) ([]metadata.DirEntry, string, error) {
		rows, err := a.db.QueryContext(ctx,
			`SELECT path, is_dir FROM objects WHERE parent = ? AND path > ? ORDER BY path LIMIT ?`,
			parent, after, listPageSize,
		)
		if err != nil {
			return nil, "", mapSQLError(backends.OpList, path, err)
		}
		defer rows.Close()

		var (
			entries []metadata.DirEntry
			last    string
		)
		for rows.Next() {
			var (
				key   string
				isDir bool
			)
			if err := rows.Scan(&key, &isDir); err != nil {
				return nil, "", mapSQLError(backends.OpList, path, err)
			}
			last = key
			mode := metadata.File
			if isDir {
				mode = metadata.Dir
			}
			entries = append(entries, metadata.DirEntry{Path: pathutil.TrimKey(a.root, key), Mode: mode})
		}
		if err := rows.Err(); err != nil {
			return nil, "", mapSQLError(backends.OpList, path, err)
		}

		if len(entries) < listPageSize {
			return entries, "", nil
		}
		return entries, last, nil
	}), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (a *SQLiteAdapter) rowExists(ctx context.Context, q queryer, path string, dir bool) (bool, error) {
	flag := 0
	if dir {
		flag = 1
	}
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE path = ? AND is_dir = ?`, a.key(path), flag).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ensureParents creates the missing parents of path, failing when one of them is a file
func (a *SQLiteAdapter) ensureParents(ctx context.Context, tx *sql.Tx, op, path, stamp string) error {
	parents := pathutil.Ancestors(path)
	for _, dir := range parents {
		isFile, err := a.rowExists(ctx, tx, strings.TrimSuffix(dir, "/"), false)
		if err != nil {
			return err
		}
		if isFile {
			return backends.NewError(backends.KindNotADirectory, op, path, nil)
		}
	}
	for _, dir := range parents {
		if err := a.insertDir(ctx, tx, dir, stamp); err != nil {
			return err
		}
	}
	return nil
}

func (a *SQLiteAdapter) insertDir(ctx context.Context, tx *sql.Tx, dir, stamp string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO objects (path, parent, is_dir, size, mtime) VALUES (?, ?, 1, 0, ?)`,
		a.key(dir), a.key(pathutil.Parent(dir)), stamp,
	)
	return err
}

func (a *SQLiteAdapter) inTx(ctx context.Context, op, path string, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLError(op, path, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return mapSQLError(op, path, err)
	}
	if err := tx.Commit(); err != nil {
		return mapSQLError(op, path, err)
	}
	return nil
}

func (a *SQLiteAdapter) missingOrDir(ctx context.Context, op, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindIsADirectory, op, path, nil)
	}
	isDir, err := a.rowExists(ctx, a.db, metadata.DirPath(path), true)
	if err != nil {
		return mapSQLError(op, path, err)
	}
	if isDir {
		return backends.NewError(backends.KindIsADirectory, op, path, nil)
	}
	if pathutil.IsDir(path) {
		isFile, err := a.rowExists(ctx, a.db, strings.TrimSuffix(path, "/"), false)
		if err != nil {
			return mapSQLError(op, path, err)
		}
		if isFile {
			return backends.NewError(backends.KindNotADirectory, op, path, nil)
		}
	}
	return backends.NotFound(op, path)
}

// key maps a backend path to its row key under the configured root
func (a *SQLiteAdapter) key(path string) string {
	return pathutil.JoinKey(a.root, path)
}

func (a *SQLiteAdapter) stamp() string {
	return a.now().UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mapSQLError(op, path string, err error) error {
	var be *backends.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &be):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return backends.NotFound(op, path)
	case strings.Contains(err.Error(), "readonly database"), strings.Contains(err.Error(), "SQLITE_READONLY"):
		return backends.NewError(backends.KindPermissionDenied, op, path, err)
	default:
		return backends.Failure(op, path, err)
	}
}
