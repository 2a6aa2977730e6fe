package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectInfo represents object information
type ObjectInfo struct {
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

func validateNames(op, bucketName, objectName string) error {
	if bucketName == "" {
		return WrapError(op, ErrInvalidBucketName, bucketName, objectName)
	}
	if err := ValidateObjectName(objectName); err != nil {
		return WrapError(op, ErrInvalidObjectName, bucketName, objectName)
	}
	return nil
}

// PutObject uploads an object of unknown size (-1) or known size
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}
	if err := validateNames("PutObject", bucketName, objectName); err != nil {
		return ObjectInfo{}, err
	}

	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectInfo{}, WrapError("PutObject", err, bucketName, objectName)
	}

	c.logger.Debug("object uploaded successfully",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag),
	)

	return ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: contentType,
	}, nil
}

// GetObject opens an object for streaming. The stat is done eagerly so a
// missing object is reported here instead of on first read.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return nil, ObjectInfo{}, err
	}
	if err := validateNames("GetObject", bucketName, objectName); err != nil {
		return nil, ObjectInfo{}, err
	}

	object, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, WrapError("GetObject", err, bucketName, objectName)
	}

	stat, err := object.Stat()
	if err != nil {
		object.Close()
		return nil, ObjectInfo{}, WrapError("GetObject", err, bucketName, objectName)
	}

	return object, ObjectInfo{
		Key:         stat.Key,
		Size:        stat.Size,
		ETag:        stat.ETag,
		ContentType: stat.ContentType,
	}, nil
}

// StatObject gets object metadata
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}
	if err := validateNames("StatObject", bucketName, objectName); err != nil {
		return ObjectInfo{}, err
	}

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, bucketName, objectName)
	}

	return ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ETag:        info.ETag,
		ContentType: info.ContentType,
	}, nil
}

// RemoveObject removes an object. S3 treats removal of a missing key as success.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := validateNames("RemoveObject", bucketName, objectName); err != nil {
		return err
	}

	if err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return WrapError("RemoveObject", err, bucketName, objectName)
	}

	c.logger.Debug("object removed successfully",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
	)

	return nil
}
