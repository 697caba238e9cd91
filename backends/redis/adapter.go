// Package redis stores objects in a Redis keyspace.
//
// Files live in string keys so ranged reads map onto GETRANGE. Directories are
// explicit markers with a per-directory children set, written in the same
// MULTI/EXEC transaction as the object that implies them.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

const (
	defaultPrefix = "accessfs:"
	scanCount     = 256
	// maxTxRetries bounds optimistic transactions whose watched keys keep changing
	maxTxRetries = 8
)

// Config holds the connection settings for the redis backend
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Root     string
}

// RedisAdapter implements backends.Accessor on a Redis keyspace
type RedisAdapter struct {
	client redis.UniversalClient
	ns     string
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisAdapter connects to Redis and verifies the connection with PING
func NewRedisAdapter(ctx context.Context, cfg Config, logger *zap.Logger) (*RedisAdapter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis backend: %w", err)
	}

	return NewRedisAdapterWithClient(client, cfg, logger), nil
}

// NewRedisAdapterWithClient builds an adapter around an existing client. The adapter owns the client.
func NewRedisAdapterWithClient(client redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	root := strings.Trim(cfg.Root, "/")
	ns := prefix
	if root != "" {
		ns += root + "/"
	}
	return &RedisAdapter{
		client: client,
		ns:     ns,
		root:   root,
		logger: logger,
		now:    time.Now,
	}
}

// Info describes the redis backend
func (a *RedisAdapter) Info() backends.Info {
	return backends.Info{
		Scheme:       "redis",
		Root:         "/" + pathutil.JoinKey(a.root, pathutil.Root),
		Name:         strings.TrimSuffix(a.ns, "/"),
		Capabilities: backends.CapBasic | backends.CapRangedRead | backends.CapNativeDir,
	}
}

// Close closes the underlying client
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}

// Read loads the object, using GETRANGE when a range is requested
func (a *RedisAdapter) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	if pathutil.IsDir(path) {
		return nil, a.missingOrDir(ctx, backends.OpRead, path)
	}
	if opts.Range != nil {
		if err := opts.Range.Validate(); err != nil {
			return nil, backends.InvalidInput(backends.OpRead, path, "%v", err)
		}
	}

	var (
		data []byte
		err  error
	)
	if opts.Range == nil {
		data, err = a.client.Get(ctx, a.fileKey(path)).Bytes()
	} else {
		data, err = a.readRange(ctx, path, *opts.Range)
	}
	if errors.Is(err, redis.Nil) {
		return nil, a.missingOrDir(ctx, backends.OpRead, path)
	}
	if err != nil {
		return nil, mapRedisError(backends.OpRead, path, err)
	}

	return backends.NewSizedReader(ctx, io.NopCloser(bytes.NewReader(data)), path, int64(len(data))), nil
}

func (a *RedisAdapter) readRange(ctx context.Context, path string, r backends.Range) ([]byte, error) {
	key := a.fileKey(path)
	exists, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, redis.Nil
	}
	size, err := a.client.StrLen(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	start, end := r.Bounds(size)
	if start >= end {
		return []byte{}, nil
	}
	s, err := a.client.GetRange(ctx, key, start, end-1).Result()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// Write buffers the object and publishes it in one transaction on Close
func (a *RedisAdapter) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	if pathutil.IsDir(path) {
		return nil, backends.InvalidInput(backends.OpWrite, path, "cannot write to a directory path")
	}
	return backends.NewBufferWriter(ctx, path, opts, func(ctx context.Context, data []byte) error {
		return a.commit(ctx, path, data)
	}), nil
}

// commit publishes the object. The directory and ancestor checks run under WATCH,
// so a concurrent CreateDir on the same name aborts the transaction.
func (a *RedisAdapter) commit(ctx context.Context, path string, data []byte) error {
	dirKey := a.dirKey(metadata.DirPath(path))
	ancestors := a.ancestorFileKeys(path)

	err := a.watch(ctx, func(tx *redis.Tx) error {
		isDir, err := tx.Exists(ctx, dirKey).Result()
		if err != nil {
			return err
		}
		if isDir > 0 {
			return backends.NewError(backends.KindIsADirectory, backends.OpWrite, path, nil)
		}
		if err := checkAncestors(ctx, tx, backends.OpWrite, path, ancestors); err != nil {
			return err
		}

		stamp := a.stamp()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, a.fileKey(path), data, 0)
			pipe.Set(ctx, a.mtimeKey(path), stamp, 0)
			pipe.SAdd(ctx, a.childrenKey(pathutil.Parent(path)), path)
			a.linkAncestors(ctx, pipe, path, stamp)
			return nil
		})
		return err
	}, append([]string{dirKey}, ancestors...)...)
	return mapRedisError(backends.OpWrite, path, err)
}

// Stat resolves path as a file first and as a directory second
func (a *RedisAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if pathutil.IsRoot(path) {
		return metadata.NewDir(pathutil.Root), nil
	}
	name := strings.TrimSuffix(path, "/")

	if !pathutil.IsDir(path) {
		md, err := a.statFile(ctx, name)
		if err != nil || md != nil {
			return md, err
		}
	}

	stamp, err := a.client.Get(ctx, a.dirKey(name+"/")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, a.notFoundOrFile(ctx, backends.OpStat, path)
	}
	if err != nil {
		return nil, mapRedisError(backends.OpStat, path, err)
	}
	return metadata.NewDir(name).SetLastModified(parseStamp(stamp)), nil
}

func (a *RedisAdapter) statFile(ctx context.Context, name string) (*metadata.Metadata, error) {
	pipe := a.client.Pipeline()
	existsCmd := pipe.Exists(ctx, a.fileKey(name))
	sizeCmd := pipe.StrLen(ctx, a.fileKey(name))
	stampCmd := pipe.Get(ctx, a.mtimeKey(name))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, mapRedisError(backends.OpStat, name, err)
	}
	if existsCmd.Val() == 0 {
		return nil, nil
	}
	return metadata.NewFile(name, uint64(sizeCmd.Val())).SetLastModified(parseStamp(stampCmd.Val())), nil
}

// Delete removes a file or an empty directory
func (a *RedisAdapter) Delete(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindPermissionDenied, backends.OpDelete, path, nil)
	}
	name := strings.TrimSuffix(path, "/")
	parent := a.childrenKey(pathutil.Parent(name))

	if !pathutil.IsDir(path) {
		removed, err := a.client.Del(ctx, a.fileKey(name)).Result()
		if err != nil {
			return mapRedisError(backends.OpDelete, path, err)
		}
		if removed > 0 {
			_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, a.mtimeKey(name))
				pipe.SRem(ctx, parent, name)
				return nil
			})
			return mapRedisError(backends.OpDelete, path, err)
		}
	}

	dir := name + "/"
	isDir, err := a.exists(ctx, a.dirKey(dir))
	if err != nil {
		return mapRedisError(backends.OpDelete, path, err)
	}
	if !isDir {
		if err := a.notFoundOrFile(ctx, backends.OpDelete, path); !backends.IsKind(err, backends.KindObjectNotFound) {
			return err
		}
		return nil
	}

	childrenKey := a.childrenKey(dir)
	err = a.watch(ctx, func(tx *redis.Tx) error {
		children, err := tx.SCard(ctx, childrenKey).Result()
		if err != nil {
			return err
		}
		if children > 0 {
			return backends.InvalidInput(backends.OpDelete, path, "directory not empty")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, a.dirKey(dir), childrenKey)
			pipe.SRem(ctx, parent, dir)
			return nil
		})
		return err
	}, childrenKey)
	return mapRedisError(backends.OpDelete, path, err)
}

// CreateDir writes the directory marker and any missing parents
func (a *RedisAdapter) CreateDir(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return nil
	}
	dir := metadata.DirPath(path)
	fileKey := a.fileKey(strings.TrimSuffix(dir, "/"))
	ancestors := a.ancestorFileKeys(dir)

	err := a.watch(ctx, func(tx *redis.Tx) error {
		isFile, err := tx.Exists(ctx, fileKey).Result()
		if err != nil {
			return err
		}
		if isFile > 0 {
			return backends.NewError(backends.KindAlreadyExists, backends.OpCreateDir, path, nil)
		}
		if err := checkAncestors(ctx, tx, backends.OpCreateDir, dir, ancestors); err != nil {
			return err
		}

		stamp := a.stamp()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, a.dirKey(dir), stamp, 0)
			pipe.SAdd(ctx, a.childrenKey(pathutil.Parent(dir)), dir)
			a.linkAncestors(ctx, pipe, dir, stamp)
			return nil
		})
		return err
	}, append([]string{fileKey}, ancestors...)...)
	if err != nil {
		return mapRedisError(backends.OpCreateDir, path, err)
	}
	a.logger.Debug("Created redis directory marker", zap.String("path", dir))
	return nil
}

// List walks the children set of a directory with SSCAN
func (a *RedisAdapter) List(ctx context.Context, path string) (backends.Lister, error) {
	dir := pathutil.Root
	if !pathutil.IsRoot(path) {
		name := strings.TrimSuffix(path, "/")
		dir = name + "/"

		isDir, err := a.exists(ctx, a.dirKey(dir))
		if err != nil {
			return nil, mapRedisError(backends.OpList, path, err)
		}
		if !isDir {
			isFile, err := a.exists(ctx, a.fileKey(name))
			if err != nil {
				return nil, mapRedisError(backends.OpList, path, err)
			}
			if isFile {
				return nil, backends.NewError(backends.KindNotADirectory, backends.OpList, path, nil)
			}
			return nil, backends.NotFound(backends.OpList, path)
		}
	}

	key := a.childrenKey(dir)
	seen := make(map[string]struct{})
	return backends.NewPageLister(func(ctx context.Context, token string) ([]metadata.DirEntry, string, error) {
		var cursor uint64
		if token != "" {
			c, err := strconv.ParseUint(token, 10, 64)
			if err != nil {
				return nil, "", backends.InvalidInput(backends.OpList, path, "bad scan cursor %q", token)
			}
			cursor = c
		}

		members, next, err := a.client.SScan(ctx, key, cursor, "", scanCount).Result()
		if err != nil {
			return nil, "", mapRedisError(backends.OpList, path, err)
		}

		// SSCAN may return a member more than once
		entries := make([]metadata.DirEntry, 0, len(members))
		for _, m := range members {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			mode := metadata.File
			if pathutil.IsDir(m) {
				mode = metadata.Dir
			}
			entries = append(entries, metadata.DirEntry{Path: m, Mode: mode})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

		if next == 0 {
			return entries, "", nil
		}
		return entries, strconv.FormatUint(next, 10), nil
	}), nil
}

// watch runs fn as an optimistic transaction over keys, retrying when another
// client modifies a watched key before EXEC
func (a *RedisAdapter) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = a.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		a.logger.Debug("Redis transaction conflict, retrying",
			zap.Strings("keys", keys),
			zap.Int("attempt", i+1))
	}
	return err
}

// ancestorFileKeys returns the file keys that would shadow a parent directory of path
func (a *RedisAdapter) ancestorFileKeys(path string) []string {
	ancestors := pathutil.Ancestors(path)
	keys := make([]string, len(ancestors))
	for i, dir := range ancestors {
		keys[i] = a.fileKey(strings.TrimSuffix(dir, "/"))
	}
	return keys
}

// checkAncestors fails with NotADirectory when any parent of path is stored as a file
func checkAncestors(ctx context.Context, tx *redis.Tx, op, path string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	n, err := tx.Exists(ctx, keys...).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return backends.NewError(backends.KindNotADirectory, op, path, nil)
	}
	return nil
}

// linkAncestors queues the markers and children links of every parent of path
func (a *RedisAdapter) linkAncestors(ctx context.Context, pipe redis.Pipeliner, path, stamp string) {
	for _, dir := range pathutil.Ancestors(path) {
		pipe.SetNX(ctx, a.dirKey(dir), stamp, 0)
		pipe.SAdd(ctx, a.childrenKey(pathutil.Parent(dir)), dir)
	}
}

func (a *RedisAdapter) missingOrDir(ctx context.Context, op, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindIsADirectory, op, path, nil)
	}
	isDir, err := a.exists(ctx, a.dirKey(metadata.DirPath(path)))
	if err != nil {
		return mapRedisError(op, path, err)
	}
	if isDir {
		return backends.NewError(backends.KindIsADirectory, op, path, nil)
	}
	return a.notFoundOrFile(ctx, op, path)
}

// notFoundOrFile reports a missing directory. A directory path that names a file is NotADirectory.
func (a *RedisAdapter) notFoundOrFile(ctx context.Context, op, path string) error {
	if pathutil.IsDir(path) {
		isFile, err := a.exists(ctx, a.fileKey(strings.TrimSuffix(path, "/")))
		if err != nil {
			return mapRedisError(op, path, err)
		}
		if isFile {
			return backends.NewError(backends.KindNotADirectory, op, path, nil)
		}
	}
	return backends.NotFound(op, path)
}

func (a *RedisAdapter) exists(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (a *RedisAdapter) stamp() string {
	return strconv.FormatInt(a.now().UTC().UnixNano(), 10)
}

func (a *RedisAdapter) fileKey(path string) string {
	return a.ns + "obj:" + path
}

func (a *RedisAdapter) mtimeKey(path string) string {
	return a.ns + "mtime:" + path
}

func (a *RedisAdapter) dirKey(dir string) string {
	return a.ns + "dir:" + dir
}

func (a *RedisAdapter) childrenKey(dir string) string {
	if pathutil.IsRoot(dir) {
		dir = pathutil.Root
	}
	return a.ns + "children:" + dir
}

func parseStamp(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func mapRedisError(op, path string, err error) error {
	var be *backends.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &be):
		return err
	case errors.Is(err, redis.Nil):
		return backends.NotFound(op, path)
	case strings.HasPrefix(err.Error(), "NOPERM"), strings.HasPrefix(err.Error(), "NOAUTH"):
		return backends.NewError(backends.KindPermissionDenied, op, path, err)
	default:
		return backends.Failure(op, path, err)
	}
}
