package data

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/lk2023060901/file-dedup-service/internal/filestore/biz"
	pkgminio "github.com/lk2023060901/file-dedup-service/internal/pkg/minio"
)

const blobContentType = "application/octet-stream"

// MinIOStore keeps blobs as objects under prefix in one bucket
type MinIOStore struct {
	client *pkgminio.Client
	bucket string
	prefix string
}

// NewMinIOStore 创建 MinIO 存储
func NewMinIOStore(client *pkgminio.Client, bucket, prefix string) *MinIOStore {
	return &MinIOStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

var _ biz.BlobStore = (*MinIOStore)(nil)

// objectName maps a relative blob path to its object key
func (s *MinIOStore) objectName(p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return clean, nil
	}
	return path.Join(s.prefix, clean), nil
}

// Write uploads with unknown size so the stream is never buffered in full
func (s *MinIOStore) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	name, err := s.objectName(p)
	if err != nil {
		return 0, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, name, r, -1, blobContentType)
	if err != nil {
		return 0, fmt.Errorf("failed to upload blob: %w", err)
	}
	return info.Size, nil
}

func (s *MinIOStore) Open(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	name, err := s.objectName(p)
	if err != nil {
		return nil, 0, err
	}
	rc, info, err := s.client.GetObject(ctx, s.bucket, name)
	if pkgminio.IsNotFound(err) {
		return nil, 0, fmt.Errorf("%w: %s", biz.ErrBlobNotFound, p)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get blob: %w", err)
	}
	return rc, info.Size, nil
}

func (s *MinIOStore) Remove(ctx context.Context, p string) error {
	name, err := s.objectName(p)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name); err != nil && !pkgminio.IsNotFound(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

func (s *MinIOStore) Exists(ctx context.Context, p string) (bool, error) {
	name, err := s.objectName(p)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, name)
	if pkgminio.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}
