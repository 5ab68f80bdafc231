// Package storage archives raw authority packages in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	downloadapp "github.com/fiscaldesk/backend/internal/application/download"
	infraconfig "github.com/fiscaldesk/backend/internal/infrastructure/config"
)

// Ensure S3PackageArchive implements PackageArchiver
var _ downloadapp.PackageArchiver = (*S3PackageArchive)(nil)

// S3PackageArchive stores the raw zip of every fetched authority package so a
// parse bug never costs a re-download. Works with any S3-compatible backend
// (AWS S3, MinIO, etc.)
type S3PackageArchive struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// S3PackageArchiveOption is a functional option for configuring S3PackageArchive
type S3PackageArchiveOption func(*S3PackageArchive)

// WithLogger sets a custom logger for S3PackageArchive
func WithLogger(logger *zap.Logger) S3PackageArchiveOption {
	return func(a *S3PackageArchive) {
		a.logger = logger
	}
}

// NewS3PackageArchive creates a new S3PackageArchive from configuration
func NewS3PackageArchive(cfg *infraconfig.StorageConfig, opts ...S3PackageArchiveOption) (*S3PackageArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	archive := &S3PackageArchive{
		client: client,
		bucket: cfg.Bucket,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(archive)
	}
	return archive, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during application startup.
func (a *S3PackageArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		// Race with another instance creating the same bucket
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// objectKey builds the archive key for a package. Packages are grouped by
// request so a whole request can be replayed with a prefix listing.
func objectKey(requestID, packageID string) string {
	return fmt.Sprintf("packages/%s/%s.zip", requestID, packageID)
}

// StorePackage writes the raw package bytes under packages/{request}/{package}.zip
func (a *S3PackageArchive) StorePackage(ctx context.Context, requestID, packageID string, data []byte) error {
	if requestID == "" || packageID == "" {
		return errors.New("request ID and package ID are required")
	}

	key := objectKey(requestID, packageID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive package %s: %w", packageID, err)
	}

	a.logger.Debug("Archived authority package",
		zap.String("request_id", requestID),
		zap.String("package_id", packageID),
		zap.Int("size_bytes", len(data)))
	return nil
}

// RetrievePackage reads back an archived package, for replaying ingestion
// without a fresh authority download
func (a *S3PackageArchive) RetrievePackage(ctx context.Context, requestID, packageID string) ([]byte, error) {
	if requestID == "" || packageID == "" {
		return nil, errors.New("request ID and package ID are required")
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey(requestID, packageID)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || strings.Contains(err.Error(), "NoSuchKey") {
			return nil, fmt.Errorf("package %s/%s not archived", requestID, packageID)
		}
		return nil, fmt.Errorf("failed to retrieve package: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived package: %w", err)
	}
	return data, nil
}

// GetBucket returns the bucket name
func (a *S3PackageArchive) GetBucket() string {
	return a.bucket
}
