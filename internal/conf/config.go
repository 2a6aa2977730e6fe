package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/file-dedup-service/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/file-dedup-service/internal/pkg/redis"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DEDUP_SERVER_PORT.
const EnvPrefix = "DEDUP"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     pkgredis.Config `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	FileStore FileStoreConfig `mapstructure:"filestore"`
	Log       logger.Config   `mapstructure:"log"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Debug           bool          `mapstructure:"debug"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"` // bytes, 0 disables the limit
}

type StorageConfig struct {
	Driver    string             `mapstructure:"driver"` // local, minio
	UploadDir string             `mapstructure:"upload_dir"`
	MinIO     MinIOStorageConfig `mapstructure:"minio"`
}

type MinIOStorageConfig struct {
	pkgminio.Config `mapstructure:",squash"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type FileStoreConfig struct {
	HashAlgorithm  string        `mapstructure:"hash_algorithm"` // sha256, sha1, blake2b
	IDFormat       string        `mapstructure:"id_format"`      // uuid, objectid
	BusyRetries    int           `mapstructure:"busy_retries"`
	BusyBackoff    time.Duration `mapstructure:"busy_backoff"`
	RetireLease    time.Duration `mapstructure:"retire_lease"`
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
}

type AuditConfig struct {
	Workers   int   `mapstructure:"workers"`
	ScanCount int64 `mapstructure:"scan_count"`
}

// setDefaults registers every key so that environment overrides are picked up
// by Unmarshal even when the file omits them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_size", int64(1<<30))

	rd := pkgredis.DefaultConfig()
	v.SetDefault("redis.mode", string(rd.Mode))
	v.SetDefault("redis.master_addr", rd.MasterAddr)
	v.SetDefault("redis.slave_addrs", []string{})
	v.SetDefault("redis.sentinel_addrs", []string{})
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.read_strategy", string(rd.ReadStrategy))
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", rd.DB)
	v.SetDefault("redis.pool_size", rd.PoolSize)
	v.SetDefault("redis.min_idle_conns", rd.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rd.DialTimeout)
	v.SetDefault("redis.read_timeout", rd.ReadTimeout)
	v.SetDefault("redis.write_timeout", rd.WriteTimeout)
	v.SetDefault("redis.pool_timeout", rd.PoolTimeout)
	v.SetDefault("redis.max_retries", rd.MaxRetries)
	v.SetDefault("redis.min_retry_backoff", rd.MinRetryBackoff)
	v.SetDefault("redis.max_retry_backoff", rd.MaxRetryBackoff)
	v.SetDefault("redis.conn_max_idle_time", rd.ConnMaxIdleTime)
	v.SetDefault("redis.enable_tls", false)
	v.SetDefault("redis.tls_cert_file", "")
	v.SetDefault("redis.tls_key_file", "")
	v.SetDefault("redis.tls_ca_file", "")
	v.SetDefault("redis.tls_skip_verify", false)

	md := pkgminio.DefaultConfig()
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key_id", "")
	v.SetDefault("storage.minio.secret_access_key", "")
	v.SetDefault("storage.minio.session_token", "")
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.minio.use_ssl", md.UseSSL)
	v.SetDefault("storage.minio.bucket_lookup", string(md.BucketLookup))
	v.SetDefault("storage.minio.trace_enabled", false)
	v.SetDefault("storage.minio.connect_timeout", md.ConnectTimeout)
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.prefix", "uploads")

	v.SetDefault("filestore.hash_algorithm", "sha256")
	v.SetDefault("filestore.id_format", "uuid")
	v.SetDefault("filestore.busy_retries", 20)
	v.SetDefault("filestore.busy_backoff", 50*time.Millisecond)
	v.SetDefault("filestore.retire_lease", 30*time.Second)
	v.SetDefault("filestore.cleanup_timeout", 10*time.Second)

	ld := logger.DefaultConfig()
	v.SetDefault("log.level", ld.Level)
	v.SetDefault("log.format", ld.Format)
	v.SetDefault("log.output", ld.Output)
	v.SetDefault("log.enablecaller", ld.EnableCaller)
	v.SetDefault("log.enablestacktrace", ld.EnableStacktrace)
	v.SetDefault("log.file.filename", ld.File.Filename)
	v.SetDefault("log.file.maxsize", ld.File.MaxSize)
	v.SetDefault("log.file.maxage", ld.File.MaxAge)
	v.SetDefault("log.file.maxbackups", ld.File.MaxBackups)
	v.SetDefault("log.file.compress", ld.File.Compress)

	v.SetDefault("audit.workers", 8)
	v.SetDefault("audit.scan_count", int64(500))
}

// LoadConfig reads the YAML file at path (skipped when path is empty), applies
// DEDUP_* environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Server.Debug {
		config.Log.Level = "debug"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-section constraints of the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Server.MaxUploadSize < 0 {
		return errors.New("server: max_upload_size must be >= 0")
	}

	if err := c.Redis.Validate(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.UploadDir == "" {
			return errors.New("storage: upload_dir is required for the local driver")
		}
	case "minio":
		if c.Storage.MinIO.Bucket == "" {
			return errors.New("storage: minio.bucket is required for the minio driver")
		}
		if err := c.Storage.MinIO.Config.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage: unknown driver %q, must be 'local' or 'minio'", c.Storage.Driver)
	}

	switch c.FileStore.HashAlgorithm {
	case "sha256", "sha1", "blake2b":
	default:
		return fmt.Errorf("filestore: unknown hash_algorithm %q", c.FileStore.HashAlgorithm)
	}
	switch c.FileStore.IDFormat {
	case "uuid", "objectid":
	default:
		return fmt.Errorf("filestore: unknown id_format %q", c.FileStore.IDFormat)
	}
	if c.FileStore.BusyRetries < 0 || c.FileStore.BusyBackoff <= 0 {
		return errors.New("filestore: busy_retries must be >= 0 and busy_backoff > 0")
	}
	if c.FileStore.RetireLease <= 0 || c.FileStore.CleanupTimeout <= 0 {
		return errors.New("filestore: retire_lease and cleanup_timeout must be > 0")
	}
	// A claim must outlive the removal it protects, with room to spare.
	if c.FileStore.CleanupTimeout*2 > c.FileStore.RetireLease {
		return fmt.Errorf("filestore: retire_lease (%s) must be at least twice cleanup_timeout (%s)",
			c.FileStore.RetireLease, c.FileStore.CleanupTimeout)
	}

	if err := c.Log.Validate(); err != nil {
		return err
	}

	if c.Audit.Workers <= 0 || c.Audit.ScanCount <= 0 {
		return errors.New("audit: workers and scan_count must be > 0")
	}

	return nil
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
