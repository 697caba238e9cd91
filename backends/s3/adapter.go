// Package s3 implements an accessfs backend for AWS S3 and S3-compatible object stores.
// Directories are emulated with zero-length marker objects whose keys end in "/".
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/internal/pathutil"
)

// Config holds everything needed to reach a bucket
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Custom S3 endpoint (e.g., for MinIO)
	AccessKey string
	SecretKey string
	// Root is a key prefix every path is resolved under
	Root                 string
	ServerSideEncryption string // SSE algorithm (AES256, aws:kms)
	ACL                  string // Object ACL (private, public-read, etc.)
	KMSKeyID             string // KMS key ID for SSE-KMS
	DisableSSL           bool
}

// S3Adapter implements backends.Accessor for AWS S3
type S3Adapter struct {
	client               s3iface.S3API
	uploader             s3manageriface.UploaderAPI
	bucketName           string
	root                 string
	serverSideEncryption string
	acl                  string
	kmsKeyID             string
	logger               *zap.Logger
}

// NewS3Adapter creates a new S3 storage adapter and verifies the bucket is reachable
func NewS3Adapter(ctx context.Context, cfg Config, logger *zap.Logger) (*S3Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	awsConfig := &aws.Config{
		Region:     aws.String(cfg.Region),
		DisableSSL: aws.Bool(cfg.DisableSSL),
	}
	// Without explicit keys the default AWS credential chain applies
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	// Set custom endpoint if provided (for MinIO compatibility)
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)              // Required for MinIO
		awsConfig.S3DisableContentMD5Validation = aws.Bool(true) // Disable MD5 for MinIO
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)

	// Verify bucket access
	_, err = client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", cfg.Bucket, err)
	}

	return NewS3AdapterWithClient(client, s3manager.NewUploaderWithClient(client), cfg, logger), nil
}

// NewS3AdapterWithClient builds an adapter around existing clients without contacting the bucket
func NewS3AdapterWithClient(client s3iface.S3API, uploader s3manageriface.UploaderAPI, cfg Config, logger *zap.Logger) *S3Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Adapter{
		client:               client,
		uploader:             uploader,
		bucketName:           cfg.Bucket,
		root:                 cfg.Root,
		serverSideEncryption: cfg.ServerSideEncryption,
		acl:                  cfg.ACL,
		kmsKeyID:             cfg.KMSKeyID,
		logger:               logger,
	}
}

// Info describes the S3 backend. Directories are emulated, so CapNativeDir is not declared.
func (a *S3Adapter) Info() backends.Info {
	return backends.Info{
		Scheme:       "s3",
		Root:         "/" + pathutil.JoinKey(a.root, pathutil.Root),
		Name:         a.bucketName,
		Capabilities: backends.CapBasic | backends.CapRangedRead,
	}
}

// Close closes any resources used by the S3 adapter
func (a *S3Adapter) Close() error {
	// No resources to close for S3
	return nil
}

// pathToKey converts a normalized path to an S3 key under the configured root
func (a *S3Adapter) pathToKey(path string) string {
	return pathutil.JoinKey(a.root, path)
}

// keyToPath converts an S3 key back to a normalized path
func (a *S3Adapter) keyToPath(key string) string {
	return pathutil.TrimKey(a.root, key)
}

// mapS3Error maps AWS SDK errors onto the accessfs error taxonomy
func mapS3Error(op, path string, err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case http.StatusNotFound:
			return backends.NewError(backends.KindObjectNotFound, op, path, err)
		case http.StatusForbidden:
			return backends.NewError(backends.KindPermissionDenied, op, path, err)
		}
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return backends.NewError(backends.KindObjectNotFound, op, path, err)
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return backends.NewError(backends.KindPermissionDenied, op, path, err)
		case "InvalidRange":
			return backends.NewError(backends.KindInvalidInput, op, path, err)
		case request.CanceledErrorCode:
			return backends.Failure(op, path, err)
		}
	}
	return backends.Failure(op, path, err)
}

func isS3NotFound(err error) bool {
	return backends.IsKind(mapS3Error("", "", err), backends.KindObjectNotFound)
}
