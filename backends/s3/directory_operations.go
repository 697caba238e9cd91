package s3

import (
	"bytes"
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

const listPageSize = 1000

// List lists the direct children of a directory by scanning one level of the key prefix
func (a *S3Adapter) List(ctx context.Context, path string) (backends.Lister, error) {
	prefix := a.pathToKey(metadata.DirPath(path))
	if pathutil.IsRoot(path) {
		prefix = a.pathToKey(pathutil.Root)
	}

	// The first page is fetched eagerly so a missing directory fails here rather than mid-iteration
	first, next, found, err := a.listPage(ctx, path, prefix, "")
	if err != nil {
		return nil, err
	}
	if !found && !pathutil.IsRoot(path) {
		isFile, err := a.fileExists(ctx, backends.OpList, path)
		if err != nil {
			return nil, err
		}
		if isFile {
			return nil, backends.NewError(backends.KindNotADirectory, backends.OpList, path, nil)
		}
		return nil, backends.NotFound(backends.OpList, path)
	}

	served := false
	return backends.NewPageLister(func(ctx context.Context, token string) ([]metadata.DirEntry, string, error) {
		if !served {
			served = true
			return first, next, nil
		}
		entries, next, _, err := a.listPage(ctx, path, prefix, token)
		return entries, next, err
	}), nil
}

// listPage fetches one page of children. found reports whether the prefix exists at all.
func (a *S3Adapter) listPage(ctx context.Context, path, prefix, token string) ([]metadata.DirEntry, string, bool, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(a.bucketName),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int64(listPageSize),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	result, err := a.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return nil, "", false, mapS3Error(backends.OpList, path, err)
	}

	var entries []metadata.DirEntry
	found := false

	// Process directory objects (common prefixes)
	for _, commonPrefix := range result.CommonPrefixes {
		if commonPrefix.Prefix == nil {
			continue
		}
		found = true
		entries = append(entries, metadata.DirEntry{
			Path: a.keyToPath(*commonPrefix.Prefix),
			Mode: metadata.Dir,
		})
	}

	// Process file objects
	for _, object := range result.Contents {
		if object.Key == nil {
			continue
		}
		found = true

		// Skip the directory marker itself
		if *object.Key == prefix || strings.HasSuffix(*object.Key, "/") {
			continue
		}
		entries = append(entries, metadata.DirEntry{
			Path: a.keyToPath(*object.Key),
			Mode: metadata.File,
		})
	}

	next := ""
	if aws.BoolValue(result.IsTruncated) && result.NextContinuationToken != nil {
		next = *result.NextContinuationToken
	}
	return entries, next, found, nil
}

// dirExists reports whether a directory marker or any key under the directory prefix exists
func (a *S3Adapter) dirExists(ctx context.Context, path string) (bool, error) {
	prefix := a.pathToKey(metadata.DirPath(strings.TrimSuffix(path, "/")))
	result, err := a.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucketName),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return false, mapS3Error(backends.OpStat, path, err)
	}
	return len(result.Contents) > 0, nil
}

// CreateDir creates a directory marker object (S3 has no real directories)
func (a *S3Adapter) CreateDir(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return nil
	}
	name := strings.TrimSuffix(path, "/")

	// A plain object at the same name wins over the directory
	_, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(a.pathToKey(name)),
	})
	if err == nil {
		return backends.NewError(backends.KindAlreadyExists, backends.OpCreateDir, path, nil)
	}
	if !isS3NotFound(err) {
		return mapS3Error(backends.OpCreateDir, path, err)
	}

	key := a.pathToKey(name + "/")
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader([]byte{}), // Empty object as directory marker
	})
	if err != nil {
		return mapS3Error(backends.OpCreateDir, path, err)
	}

	a.logger.Debug("Directory created in S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key))

	return nil
}
