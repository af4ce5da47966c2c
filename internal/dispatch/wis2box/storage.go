package wis2box

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the part of the wis2box MinIO the sink writes to.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error
}

type minioStore struct {
	client *minio.Client
}

func newMinioStore(cfg Config) (ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioStore{client: client}, nil
}

func (s *minioStore) Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}
