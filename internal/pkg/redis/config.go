package redis

import (
	"errors"
	"time"
)

// DeployMode Redis 部署模式
type DeployMode string

const (
	ModeSingle    DeployMode = "single"     // 单机模式
	ModeSentinel  DeployMode = "sentinel"   // 哨兵模式
	ModeReadWrite DeployMode = "read-write" // 主从读写分离模式
)

// ReadStrategy 读取策略，仅作用于不参与去重协议的只读扫描（如审计）
type ReadStrategy string

const (
	ReadFromMaster ReadStrategy = "master"      // 只从主节点读
	ReadFromSlave  ReadStrategy = "slave"       // 只从从节点读
	ReadRoundRobin ReadStrategy = "round-robin" // 轮询读（主+从）
)

// Config Redis 配置
type Config struct {
	Mode DeployMode `mapstructure:"mode" yaml:"mode"`

	// 单机/主从模式
	MasterAddr string   `mapstructure:"master_addr" yaml:"master_addr"`
	SlaveAddrs []string `mapstructure:"slave_addrs" yaml:"slave_addrs"`

	// 哨兵模式
	SentinelAddrs []string `mapstructure:"sentinel_addrs" yaml:"sentinel_addrs"`
	MasterName    string   `mapstructure:"master_name" yaml:"master_name"`

	ReadStrategy ReadStrategy `mapstructure:"read_strategy" yaml:"read_strategy"`

	// 认证
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`

	// 连接池
	PoolSize     int `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`

	// 超时
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout" yaml:"pool_timeout"`

	// 重试
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff"`

	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// TLS
	EnableTLS     bool   `mapstructure:"enable_tls" yaml:"enable_tls"`
	TLSCertFile   string `mapstructure:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file" yaml:"tls_key_file"`
	TLSCAFile     string `mapstructure:"tls_ca_file" yaml:"tls_ca_file"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:       ModeSingle,
		MasterAddr: "localhost:6379",

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,

		ConnMaxIdleTime: 5 * time.Minute,

		ReadStrategy: ReadFromMaster,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if c.MasterAddr == "" {
			return errors.New("redis: master_addr is required in single mode")
		}
	case ModeSentinel:
		if len(c.SentinelAddrs) == 0 {
			return errors.New("redis: sentinel_addrs is required in sentinel mode")
		}
		if c.MasterName == "" {
			return errors.New("redis: master_name is required in sentinel mode")
		}
	case "cluster":
		// 去重脚本同时操作 file:<id> 和 fh:<digest>，集群会以 CROSSSLOT 拒绝
		return errors.New("redis: cluster mode is not supported, scripts span keys in different slots")
	case ModeReadWrite:
		if c.MasterAddr == "" {
			return errors.New("redis: master_addr is required in read-write mode")
		}
		if len(c.SlaveAddrs) == 0 {
			return errors.New("redis: slave_addrs is required in read-write mode")
		}
		switch c.ReadStrategy {
		case ReadFromMaster, ReadFromSlave, ReadRoundRobin:
		default:
			return errors.New("redis: invalid read_strategy, must be one of: master, slave, round-robin")
		}
	default:
		return errors.New("redis: invalid mode, must be one of: single, sentinel, read-write")
	}

	if c.DB < 0 || c.DB > 15 {
		return errors.New("redis: db must be between 0 and 15")
	}
	if c.PoolSize <= 0 {
		return errors.New("redis: pool_size must be > 0")
	}
	if c.MinIdleConns < 0 || c.MinIdleConns > c.PoolSize {
		return errors.New("redis: min_idle_conns must be between 0 and pool_size")
	}
	if c.DialTimeout <= 0 {
		return errors.New("redis: dial_timeout must be > 0")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("redis: read_timeout and write_timeout must be >= 0")
	}
	if c.PoolTimeout <= 0 {
		return errors.New("redis: pool_timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("redis: max_retries must be >= 0")
	}
	if c.MinRetryBackoff < 0 || c.MaxRetryBackoff < 0 || c.MinRetryBackoff > c.MaxRetryBackoff {
		return errors.New("redis: retry backoff must satisfy 0 <= min_retry_backoff <= max_retry_backoff")
	}
	if c.EnableTLS && c.TLSCertFile == "" && c.TLSKeyFile == "" && c.TLSCAFile == "" && !c.TLSSkipVerify {
		return errors.New("redis: TLS enabled but no certificate files provided and TLS verification not skipped")
	}

	return nil
}
