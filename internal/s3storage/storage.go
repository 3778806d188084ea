package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/learnscaffold/internal/config"
)

// Storage wraps MinIO/S3 interactions for uploaded sources and result artifacts.
type Storage struct {
	client        *minio.Client
	uploadsBucket string
	resultsBucket string
	region        string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		uploadsBucket: cfg.UploadsBucket,
		resultsBucket: cfg.ResultsBucket,
		region:        cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the uploads/results buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.uploadsBucket, s.resultsBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadSource streams an uploaded document into the uploads bucket.
func (s *Storage) UploadSource(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.uploadsBucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("upload source object: %w", err)
	}
	return nil
}

// UploadResult stores a generated artifact in the results bucket.
func (s *Storage) UploadResult(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	_, err := s.client.PutObject(ctx, s.resultsBucket, objectKey, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload result object: %w", err)
	}
	return nil
}

// DownloadResult fetches a generated artifact from the results bucket.
func (s *Storage) DownloadResult(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.resultsBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get result object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read result object: %w", err)
	}
	return buf, nil
}
