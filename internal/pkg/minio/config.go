package minio

import (
	"errors"
	"time"
)

// BucketLookupType represents the type of bucket lookup
type BucketLookupType string

const (
	// BucketLookupAuto automatically determines the bucket lookup type
	BucketLookupAuto BucketLookupType = "auto"
	// BucketLookupDNS uses DNS-style bucket lookup (bucket.endpoint)
	BucketLookupDNS BucketLookupType = "dns"
	// BucketLookupPath uses path-style bucket lookup (endpoint/bucket)
	BucketLookupPath BucketLookupType = "path"
)

// Config represents the configuration for MinIO client
type Config struct {
	// Endpoint is the S3-compatible object storage endpoint
	// Examples: "play.min.io", "localhost:9000"
	Endpoint string `mapstructure:"endpoint"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// SessionToken is the session token for temporary credentials (optional)
	SessionToken string `mapstructure:"session_token"`

	// Region is the region of the object storage (optional)
	Region string `mapstructure:"region"`

	// UseSSL determines whether to use HTTPS (true) or HTTP (false)
	UseSSL bool `mapstructure:"use_ssl"`

	// BucketLookup specifies the bucket lookup type
	// Default: BucketLookupAuto
	BucketLookup BucketLookupType `mapstructure:"bucket_lookup"`

	// TraceEnabled enables HTTP request/response tracing for debugging
	TraceEnabled bool `mapstructure:"trace_enabled"`

	// ConnectTimeout bounds the startup connectivity check
	// Default: 10 seconds
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}

	if c.AccessKeyID == "" {
		return errors.New("minio: access key ID is required")
	}

	if c.SecretAccessKey == "" {
		return errors.New("minio: secret access key is required")
	}

	if c.BucketLookup != "" &&
		c.BucketLookup != BucketLookupAuto &&
		c.BucketLookup != BucketLookupDNS &&
		c.BucketLookup != BucketLookupPath {
		return errors.New("minio: invalid bucket lookup type")
	}

	return nil
}

// SetDefaults sets default values for unspecified configuration fields
func (c *Config) SetDefaults() {
	if c.BucketLookup == "" {
		c.BucketLookup = BucketLookupAuto
	}

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		UseSSL:         true,
		BucketLookup:   BucketLookupAuto,
		ConnectTimeout: 10 * time.Second,
	}
}
