package minio

import (
	"context"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Client wraps the MinIO client with additional functionality
type Client struct {
	client *minio.Client
	config *Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new MinIO client. No request is sent until the first operation.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, ErrInvalidArgument
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "invalid configuration")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}

	switch cfg.BucketLookup {
	case BucketLookupDNS:
		opts.BucketLookup = minio.BucketLookupDNS
	case BucketLookupPath:
		opts.BucketLookup = minio.BucketLookupPath
	default:
		opts.BucketLookup = minio.BucketLookupAuto
	}

	minioClient, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, WrapErrorWithMessage("NewClient", err, "failed to create minio client")
	}

	if cfg.TraceEnabled {
		minioClient.TraceOn(os.Stderr)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("minio client initialized successfully",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("region", cfg.Region),
		zap.Bool("use_ssl", cfg.UseSSL),
		zap.String("bucket_lookup", string(cfg.BucketLookup)),
	)

	return &Client{
		client: minioClient,
		config: cfg,
		logger: logger,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (c *Client) EnsureBucket(ctx context.Context, bucketName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	if err := ValidateBucketName(bucketName); err != nil {
		return WrapError("EnsureBucket", ErrInvalidBucketName, bucketName, "")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return WrapError("BucketExists", err, bucketName, "")
	}
	if exists {
		return nil
	}

	err = c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region})
	if err != nil && !IsBucketAlreadyExists(err) {
		return WrapError("MakeBucket", err, bucketName, "")
	}

	c.logger.Info("bucket created", zap.String("bucket", bucketName))
	return nil
}

// Close marks the client closed; later operations fail with ErrClientClosed
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Info("minio client closed")
	return nil
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) checkClosed() error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	return nil
}
