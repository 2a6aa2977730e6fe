package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/file-dedup-service/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client Redis 客户端封装
type Client struct {
	config *Config
	logger *logger.Logger

	master redis.UniversalClient   // 主节点客户端（写操作及脚本）
	slaves []redis.UniversalClient // 从节点客户端（只读扫描）

	slaveIndex atomic.Int32
}

// New 创建 Redis 客户端并做一次健康检查
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		config: cfg,
		logger: log.Named("redis"),
	}

	var tlsConfig *tls.Config
	if cfg.EnableTLS {
		var err error
		if tlsConfig, err = cfg.loadTLSConfig(); err != nil {
			return nil, err
		}
	}

	switch cfg.Mode {
	case ModeSingle:
		client.master = redis.NewClient(cfg.nodeOptions(cfg.MasterAddr, tlsConfig))
	case ModeSentinel:
		client.master = redis.NewFailoverClient(cfg.failoverOptions(tlsConfig))
	case ModeReadWrite:
		client.master = redis.NewClient(cfg.nodeOptions(cfg.MasterAddr, tlsConfig))
		for _, addr := range cfg.SlaveAddrs {
			client.slaves = append(client.slaves, redis.NewClient(cfg.nodeOptions(addr, tlsConfig)))
		}
	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	client.logger.Info("redis client initialized successfully",
		zap.String("mode", string(cfg.Mode)),
		zap.String("master_addr", cfg.MasterAddr),
		zap.Int("slaves", len(client.slaves)),
	)

	return client, nil
}

func (c *Config) nodeOptions(addr string, tlsConfig *tls.Config) *redis.Options {
	return &redis.Options{
		Addr:     addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,

		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,

		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolTimeout:  c.PoolTimeout,

		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,

		ConnMaxIdleTime: c.ConnMaxIdleTime,
		TLSConfig:       tlsConfig,
	}
}

func (c *Config) failoverOptions(tlsConfig *tls.Config) *redis.FailoverOptions {
	return &redis.FailoverOptions{
		MasterName:    c.MasterName,
		SentinelAddrs: c.SentinelAddrs,
		Username:      c.Username,
		Password:      c.Password,
		DB:            c.DB,

		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,

		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolTimeout:  c.PoolTimeout,

		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,

		ConnMaxIdleTime: c.ConnMaxIdleTime,
		TLSConfig:       tlsConfig,
	}
}

// loadTLSConfig 加载TLS配置
func (c *Config) loadTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert failed: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.TLSCAFile != "" {
		caCert, err := os.ReadFile(c.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file failed: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("append CA cert failed")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// getReadClient 根据读取策略获取只读客户端
func (c *Client) getReadClient() redis.UniversalClient {
	if len(c.slaves) == 0 {
		return c.master
	}

	switch c.config.ReadStrategy {
	case ReadFromSlave:
		idx := int(c.slaveIndex.Add(1)) % len(c.slaves)
		return c.slaves[idx]
	case ReadRoundRobin:
		idx := int(c.slaveIndex.Add(1)) % (len(c.slaves) + 1)
		if idx == 0 {
			return c.master
		}
		return c.slaves[idx-1]
	default:
		return c.master
	}
}

// Ping 健康检查，从节点失败只记录告警
func (c *Client) Ping(ctx context.Context) error {
	if c.master == nil {
		return ErrNotInitialized
	}

	if err := c.master.Ping(ctx).Err(); err != nil {
		c.logger.Error("redis master ping failed", zap.Error(err))
		return err
	}

	for i, slave := range c.slaves {
		if err := slave.Ping(ctx).Err(); err != nil {
			c.logger.Warn("redis slave ping failed",
				zap.Int("index", i),
				zap.Error(err),
			)
		}
	}

	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	var firstErr error
	if c.master != nil {
		if err := c.master.Close(); err != nil {
			c.logger.Error("close master client failed", zap.Error(err))
			firstErr = err
		}
	}

	for i, slave := range c.slaves {
		if err := slave.Close(); err != nil {
			c.logger.Error("close slave client failed",
				zap.Int("index", i),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("redis client closed")
	return firstErr
}

// Mode 返回部署模式
func (c *Client) Mode() DeployMode {
	return c.config.Mode
}

// GetMasterClient 获取主节点客户端（用于高级操作）
func (c *Client) GetMasterClient() redis.UniversalClient {
	return c.master
}
