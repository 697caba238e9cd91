package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
	"github.com/ebogdum/accessfs/metadata"
)

var errWriteAborted = errors.New("write aborted")

// Read streams an object, optionally restricted to a byte range
func (a *S3Adapter) Read(ctx context.Context, path string, opts backends.ReadOptions) (backends.Reader, error) {
	if pathutil.IsDir(path) {
		return nil, a.readDirError(ctx, path)
	}
	key := a.pathToKey(path)

	input := &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	}
	if opts.Range != nil {
		if err := opts.Range.Validate(); err != nil {
			return nil, backends.InvalidInput(backends.OpRead, path, "%v", err)
		}
		input.Range = aws.String(opts.Range.HeaderValue())
	}

	result, err := a.client.GetObjectWithContext(ctx, input)
	if err != nil {
		mapped := mapS3Error(backends.OpRead, path, err)
		switch backends.KindOf(mapped) {
		case backends.KindObjectNotFound:
			if found, dirErr := a.dirExists(ctx, path); dirErr == nil && found {
				return nil, backends.NewError(backends.KindIsADirectory, backends.OpRead, path, nil)
			}
		case backends.KindInvalidInput:
			// The range starts past the end of the object
			if opts.Range != nil {
				return backends.NewSizedReader(ctx, io.NopCloser(bytes.NewReader(nil)), path, 0), nil
			}
		}
		return nil, mapped
	}

	a.logger.Debug("File opened from S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key))

	size := int64(-1)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return backends.NewSizedReader(ctx, result.Body, path, size), nil
}

// Write streams the content into a managed upload. The object appears only when the upload completes.
func (a *S3Adapter) Write(ctx context.Context, path string, opts backends.WriteOptions) (backends.Writer, error) {
	if pathutil.IsDir(path) {
		return nil, backends.InvalidInput(backends.OpWrite, path, "cannot write to a directory path")
	}
	key := a.pathToKey(path)

	input := &s3manager.UploadInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	}

	// Set server-side encryption if configured
	if a.serverSideEncryption != "" {
		input.ServerSideEncryption = aws.String(a.serverSideEncryption)
		if a.serverSideEncryption == "aws:kms" && a.kmsKeyID != "" {
			input.SSEKMSKeyId = aws.String(a.kmsKeyID)
		}
	}

	// Set ACL if configured
	if a.acl != "" {
		input.ACL = aws.String(a.acl)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = getContentType(path)
	}
	input.ContentType = aws.String(contentType)

	pr, pw := io.Pipe()
	input.Body = pr

	w := &uploadWriter{
		path:     path,
		pw:       pw,
		expected: opts.ContentLength,
		done:     make(chan error, 1),
	}

	go func() {
		_, err := a.uploader.UploadWithContext(ctx, input)
		// Unblock any writer still feeding the pipe
		pr.CloseWithError(errWriteAborted)
		w.done <- err
	}()
	w.stop = context.AfterFunc(ctx, func() { _ = w.Abort() })

	a.logger.Debug("Upload started in S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key),
		zap.Int64("size_hint", opts.ContentLength))

	return w, nil
}

// Stat resolves path as an object first and as an emulated directory second
func (a *S3Adapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	if pathutil.IsRoot(path) {
		return metadata.NewDir(pathutil.Root), nil
	}

	if !pathutil.IsDir(path) {
		result, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(a.bucketName),
			Key:    aws.String(a.pathToKey(path)),
		})
		if err == nil {
			md := metadata.NewFile(path, uint64(aws.Int64Value(result.ContentLength)))
			if result.LastModified != nil {
				md.SetLastModified(*result.LastModified)
			}
			return md, nil
		}
		if !isS3NotFound(err) {
			return nil, mapS3Error(backends.OpStat, path, err)
		}
	}

	found, err := a.dirExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, a.notFoundOrFile(ctx, backends.OpStat, path)
	}
	return metadata.NewDir(strings.TrimSuffix(path, "/")), nil
}

// Delete removes an object or a directory marker. S3 deletes are idempotent.
func (a *S3Adapter) Delete(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindPermissionDenied, backends.OpDelete, path, nil)
	}
	if pathutil.IsDir(path) {
		isFile, err := a.fileExists(ctx, backends.OpDelete, path)
		if err != nil {
			return err
		}
		if isFile {
			return backends.NewError(backends.KindNotADirectory, backends.OpDelete, path, nil)
		}
	}
	key := a.pathToKey(path)

	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return mapS3Error(backends.OpDelete, path, err)
	}

	a.logger.Debug("File deleted from S3",
		zap.String("bucket", a.bucketName),
		zap.String("key", key))

	return nil
}

// readDirError picks the error for reading a directory path
func (a *S3Adapter) readDirError(ctx context.Context, path string) error {
	if pathutil.IsRoot(path) {
		return backends.NewError(backends.KindIsADirectory, backends.OpRead, path, nil)
	}
	found, err := a.dirExists(ctx, path)
	if err != nil {
		return backends.WithOp(err, backends.OpRead, path)
	}
	if found {
		return backends.NewError(backends.KindIsADirectory, backends.OpRead, path, nil)
	}
	return a.notFoundOrFile(ctx, backends.OpRead, path)
}

// notFoundOrFile reports a missing path. A directory path naming a plain object is NotADirectory.
func (a *S3Adapter) notFoundOrFile(ctx context.Context, op, path string) error {
	if pathutil.IsDir(path) {
		isFile, err := a.fileExists(ctx, op, path)
		if err != nil {
			return err
		}
		if isFile {
			return backends.NewError(backends.KindNotADirectory, op, path, nil)
		}
	}
	return backends.NotFound(op, path)
}

// fileExists reports whether a plain object is stored under path without its trailing slash
func (a *S3Adapter) fileExists(ctx context.Context, op, path string) (bool, error) {
	_, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(a.pathToKey(strings.TrimSuffix(path, "/"))),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, mapS3Error(op, path, err)
}

// uploadWriter feeds an io.Pipe consumed by the upload goroutine
type uploadWriter struct {
	mu       sync.Mutex
	path     string
	pw       *io.PipeWriter
	expected int64
	written  int64
	finished bool
	done     chan error
	result   error
	stop     func() bool
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	finished := w.finished
	w.mu.Unlock()
	if finished {
		return 0, backends.NewError(backends.KindInvalidInput, backends.OpWrite, w.path, backends.ErrWriterDone)
	}

	n, err := w.pw.Write(p)
	w.mu.Lock()
	w.written += int64(n)
	w.mu.Unlock()
	if err != nil {
		return n, backends.Failure(backends.OpWrite, w.path, err)
	}
	return n, nil
}

// Close ends the stream and waits for the upload to complete
func (w *uploadWriter) Close() error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return backends.NewError(backends.KindInvalidInput, backends.OpWrite, w.path, backends.ErrWriterDone)
	}
	w.finished = true
	w.stop()
	written := w.written
	w.mu.Unlock()

	if err := backends.CheckLength(w.path, w.expected, written); err != nil {
		w.pw.CloseWithError(err)
		<-w.done
		return err
	}

	w.pw.Close()
	if err := <-w.done; err != nil {
		return mapS3Error(backends.OpWrite, w.path, err)
	}
	return nil
}

// Abort fails the stream so the uploader discards everything, including multipart parts
func (w *uploadWriter) Abort() error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return nil
	}
	w.finished = true
	w.stop()
	w.mu.Unlock()

	w.pw.CloseWithError(errWriteAborted)
	<-w.done
	return nil
}

// getContentType returns the MIME type based on file extension
func getContentType(path string) string {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
