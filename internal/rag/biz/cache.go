package biz

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// AnswerCacheConfig 答案缓存配置。
type AnswerCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// AnswerCache 缓存没有对话上下文的查询结果。
type AnswerCache struct {
	redis  goredis.Cmdable
	config *AnswerCacheConfig
}

// NewAnswerCache 创建答案缓存，redis 为 nil 时所有操作都是空操作。
func NewAnswerCache(redis goredis.Cmdable, config *AnswerCacheConfig) *AnswerCache {
	if config == nil {
		config = &AnswerCacheConfig{
			Enabled:   false,
			TTL:       10 * time.Minute,
			KeyPrefix: "rag:",
		}
	}
	return &AnswerCache{redis: redis, config: config}
}

func (c *AnswerCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

// Key 由租户、问题和检索参数生成缓存键（SHA256）。
func (c *AnswerCache) Key(appID, query string, topK int, threshold float64, format OutputFormat, includeSources bool) string {
	return c.config.KeyPrefix + "answer:" + textutil.HashKey(
		appID,
		query,
		strconv.Itoa(topK),
		strconv.FormatFloat(threshold, 'f', -1, 64),
		string(format),
		strconv.FormatBool(includeSources),
	)
}

// Get 读取缓存，未命中或出错都返回 nil。
func (c *AnswerCache) Get(ctx context.Context, key string) *QueryResult {
	if !c.enabled() {
		return nil
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("failed to get from cache", "error", err.Error(), "key", key)
		}
		return nil
	}

	var result QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("failed to unmarshal cached result", "error", err.Error(), "key", key)
		// 删除损坏的缓存
		_ = c.redis.Del(ctx, key).Err()
		return nil
	}
	return &result
}

// Set 写入缓存。
func (c *AnswerCache) Set(ctx context.Context, key string, result *QueryResult) error {
	if !c.enabled() {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set cache", "error", err.Error(), "key", key)
		return err
	}
	return nil
}

// Clear 清除所有答案缓存，返回删除的键数。
func (c *AnswerCache) Clear(ctx context.Context) (int, error) {
	if !c.enabled() {
		return 0, nil
	}

	// 使用 SCAN 命令查找所有匹配的键
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"answer:*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}

	logger.Infow("cleared answer cache", "deleted_count", deleted)
	return deleted, nil
}
