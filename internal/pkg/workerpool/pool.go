package workerpool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolFull   = errors.New("worker pool is full")
)

// Config Worker Pool 配置
type Config struct {
	Workers        int           `mapstructure:"workers"`         // worker 数量
	Nonblocking    bool          `mapstructure:"nonblocking"`     // 池满时立即返回 ErrPoolFull 而不是等待
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"` // Shutdown 等待运行中任务的最长时间
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        16,
		ReleaseTimeout: 30 * time.Second,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // panic 的任务
	Running   int64 // 运行中
}

// Pool 基于 ants 的 Worker Pool
type Pool struct {
	pool   *ants.Pool
	config *Config
	logger *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int64
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("workerpool: workers must be > 0, got %d", config.Workers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		config: config,
		logger: logger,
	}

	antsPool, err := ants.NewPool(config.Workers,
		ants.WithNonblocking(config.Nonblocking),
		ants.WithPanicHandler(func(err interface{}) {
			p.panicked.Add(1)
			logger.Error("worker panic", zap.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool

	return p, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.completed.Add(1)
		}()
		task()
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		p.submitted.Add(-1)
		return ErrPoolClosed
	case errors.Is(err, ants.ErrPoolOverload):
		p.submitted.Add(-1)
		return ErrPoolFull
	default:
		p.submitted.Add(-1)
		return err
	}
}

// Running 返回运行中的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 返回空闲容量
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Stats 返回统计快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Running:   p.running.Load(),
	}
}

// Shutdown 关闭并等待运行中的任务，超时后直接返回
func (p *Pool) Shutdown() {
	if err := p.pool.ReleaseTimeout(p.config.ReleaseTimeout); err != nil {
		p.logger.Warn("worker pool release timed out",
			zap.Duration("timeout", p.config.ReleaseTimeout),
			zap.Error(err),
		)
	}
}
