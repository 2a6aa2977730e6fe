package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewScript 创建 Lua 脚本；首次执行时通过 EVALSHA 失败回退 EVAL 自动加载
func NewScript(src string) *redis.Script {
	return redis.NewScript(src)
}

// RunScript 在主节点原子执行脚本，返回脚本的原始结果
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	val, err := script.Run(ctx, c.master, keys, args...).Result()
	if err != nil && !IsNil(err) {
		c.logger.Error("redis script failed",
			zap.String("sha", script.Hash()),
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
	return val, err
}

// LoadScripts 预加载脚本，启动阶段暴露 NOSCRIPT 以外的加载错误
func (c *Client) LoadScripts(ctx context.Context, scripts ...*redis.Script) error {
	for _, script := range scripts {
		if err := script.Load(ctx, c.master).Err(); err != nil {
			c.logger.Error("redis script load failed",
				zap.String("sha", script.Hash()),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}
