// Package media removes message and status attachments from object storage.
package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
	"realtime-core/pkg/resilience"
)

// ObjectStorage interface for the MinIO operations used by the store
type ObjectStorage interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Config holds MinIO connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioClient creates a MinIO client
func NewMinioClient(cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// MinioStore deletes media objects through a circuit breaker
type MinioStore struct {
	storage ObjectStorage
	bucket  string
	breaker *resilience.Breaker
}

// NewMinioStore creates a store for bucket
func NewMinioStore(storage ObjectStorage, bucket string, breaker *resilience.Breaker) *MinioStore {
	return &MinioStore{
		storage: storage,
		bucket:  bucket,
		breaker: breaker,
	}
}

// EnsureBucket creates the bucket if it does not exist
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	return s.breaker.Execute(ctx, "ensure_bucket", func(ctx context.Context) error {
		exists, err := s.storage.BucketExists(ctx, s.bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket: %w", err)
		}
		if exists {
			return nil
		}
		if err := s.storage.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created media bucket", zap.String("bucket", s.bucket))
		return nil
	})
}

// Delete removes the object at key. A missing object counts as deleted so
// purges can be retried safely.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return nil
	}

	err := s.breaker.Execute(ctx, "remove_object", func(ctx context.Context) error {
		err := s.storage.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
		if err != nil && isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		metrics.MediaDeletesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to delete media object %s: %w", key, err)
	}

	metrics.MediaDeletesTotal.WithLabelValues("success").Inc()
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

// NopStore is used when no object storage is configured
type NopStore struct{}

func (NopStore) Delete(_ context.Context, key string) error {
	logger.Debug("Media storage not configured, skipping delete", zap.String("key", key))
	return nil
}
