package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ==================== Key Operations ====================

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.master.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis del failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
	return n, err
}

// Exists 检查键是否存在
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.master.Exists(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis exists failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
	return n, err
}

// ==================== Hash Operations ====================

// HSet 设置哈希字段
func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) (int64, error) {
	n, err := c.master.HSet(ctx, key, values...).Result()
	if err != nil {
		c.logger.Error("redis hset failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return n, err
}

// HGet 获取哈希字段
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := c.master.HGet(ctx, key, field).Result()
	if err != nil && !IsNil(err) {
		c.logger.Error("redis hget failed",
			zap.String("key", key),
			zap.String("field", field),
			zap.Error(err),
		)
	}
	return val, err
}

// HGetAll 获取所有哈希字段，键不存在时返回空 map
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := c.master.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis hgetall failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return val, err
}

// HDel 删除哈希字段
func (c *Client) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := c.master.HDel(ctx, key, fields...).Result()
	if err != nil {
		c.logger.Error("redis hdel failed",
			zap.String("key", key),
			zap.Strings("fields", fields),
			zap.Error(err),
		)
	}
	return n, err
}

// HIncrBy 哈希字段自增
func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	val, err := c.master.HIncrBy(ctx, key, field, incr).Result()
	if err != nil {
		c.logger.Error("redis hincrby failed",
			zap.String("key", key),
			zap.String("field", field),
			zap.Int64("incr", incr),
			zap.Error(err),
		)
	}
	return val, err
}

// ==================== Read-only bulk access ====================

// ScanHashes 遍历匹配 pattern 的键并读取其哈希内容，fn 返回错误时停止。
// 读取走只读客户端，结果可能略有滞后。
func (c *Client) ScanHashes(ctx context.Context, pattern string, count int64, fn func(key string, fields map[string]string) error) error {
	client := c.getReadClient()
	var cursor uint64

	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			c.logger.Error("redis scan failed",
				zap.String("pattern", pattern),
				zap.Uint64("cursor", cursor),
				zap.Error(err),
			)
			return err
		}

		if len(keys) > 0 {
			cmds := make([]*redis.MapStringStringCmd, len(keys))
			pipe := client.Pipeline()
			for i, key := range keys {
				cmds[i] = pipe.HGetAll(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				c.logger.Error("redis pipeline hgetall failed",
					zap.Int("keys", len(keys)),
					zap.Error(err),
				)
				return err
			}

			for i, key := range keys {
				fields := cmds[i].Val()
				if len(fields) == 0 {
					continue
				}
				if err := fn(key, fields); err != nil {
					return err
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// TxPipelined 在 MULTI/EXEC 中执行一批命令，用于多键一致性读取
func (c *Client) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	cmds, err := c.master.TxPipelined(ctx, fn)
	if err != nil && !IsNil(err) {
		c.logger.Error("redis tx pipeline failed",
			zap.Int("cmds", len(cmds)),
			zap.Error(err),
		)
	}
	return cmds, err
}
