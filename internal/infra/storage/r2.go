package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

// R2Storage stages uploads in Cloudflare R2 via the S3-compatible API.
type R2Storage struct {
	client     *minio.Client
	bucket     string
	logger     *slog.Logger
	bucketOnce sync.Once
	bucketErr  error
}

// NewR2Storage constructs the storage adapter.
func NewR2Storage(endpoint, accessKey, secretKey, bucket, region string, logger *slog.Logger) (*R2Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanEndpoint := sanitizeEndpoint(endpoint)
	useSSL := !strings.HasPrefix(strings.ToLower(strings.TrimSpace(endpoint)), "http://")
	client, err := minio.New(cleanEndpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init r2 client: %w", err)
	}
	return &R2Storage{client: client, bucket: bucket, logger: logger.With("component", "storage.r2")}, nil
}

func (s *R2Storage) ensureBucket(ctx context.Context) error {
	s.bucketOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err == nil && exists {
			return
		}
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			s.bucketErr = err
			return
		}
		s.logger.Info("staging bucket ready", "bucket", s.bucket)
	})
	return s.bucketErr
}

// Put uploads data to R2.
func (s *R2Storage) Put(ctx context.Context, key string, data []byte, mimeType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      mimeType,
		DisableMultipart: len(data) < 5*1024*1024,
	})
	return err
}

// Get fetches an object for reading.
func (s *R2Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, statErr := obj.Stat(); statErr != nil {
		_ = obj.Close()
		return nil, statErr
	}
	return obj, nil
}

// Delete removes an object.
func (s *R2Storage) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

var _ extractor.Stager = (*R2Storage)(nil)

// sanitizeEndpoint strips scheme and path, which minio.New rejects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if idx := strings.Index(raw, "/"); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}
