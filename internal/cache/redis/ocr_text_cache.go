// Package redis caches OCR text in Redis in front of a slower OCRTextStore.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assesslab/internal/config"
	"assesslab/internal/logger"
	"assesslab/internal/port"
)

const (
	keyPrefix = "ocr_text:"
	cacheType = "redis"
)

// Commander is the subset of *redis.Client used by the cache.
type Commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// HitRecorder observes cache lookups.
type HitRecorder interface {
	CacheHit(cacheType string)
	CacheMiss(cacheType string)
}

// OCRTextCache is a read-through cache. Redis failures are logged and fall through to the store.
type OCRTextCache struct {
	rdb      Commander
	store    port.OCRTextStore
	ttl      time.Duration
	recorder HitRecorder
	log      *zap.Logger
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewOCRTextCache wraps store, which may be nil for a cache-only setup.
func NewOCRTextCache(rdb Commander, store port.OCRTextStore, ttl time.Duration, recorder HitRecorder, log *zap.Logger) *OCRTextCache {
	return &OCRTextCache{
		rdb:      rdb,
		store:    store,
		ttl:      ttl,
		recorder: recorder,
		log:      logger.OrNop(log).Named("ocr_cache"),
	}
}

// Key returns the Redis key for a document URL.
func Key(documentURL string) string {
	sum := sha256.Sum256([]byte(documentURL))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *OCRTextCache) Lookup(ctx context.Context, documentURL string) (string, bool, error) {
	key := Key(documentURL)
	text, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		c.hit()
		c.log.Debug("OCR text cache hit", zap.String("url", documentURL))
		return text, true, nil
	case errors.Is(err, redis.Nil):
		c.miss()
	default:
		c.miss()
		c.log.Warn("OCR text cache read failed", zap.String("url", documentURL), zap.Error(err))
	}

	if c.store == nil {
		return "", false, nil
	}
	text, found, err := c.store.Lookup(ctx, documentURL)
	if err != nil || !found {
		return text, found, err
	}
	c.set(ctx, key, text)
	return text, true, nil
}

func (c *OCRTextCache) Save(ctx context.Context, documentURL, text string) error {
	if c.store != nil {
		if err := c.store.Save(ctx, documentURL, text); err != nil {
			return err
		}
	}
	c.set(ctx, Key(documentURL), text)
	return nil
}

func (c *OCRTextCache) set(ctx context.Context, key, text string) {
	if err := c.rdb.Set(ctx, key, text, c.ttl).Err(); err != nil {
		c.log.Warn("OCR text cache write failed", zap.Error(err))
	}
}

func (c *OCRTextCache) hit() {
	if c.recorder != nil {
		c.recorder.CacheHit(cacheType)
	}
}

func (c *OCRTextCache) miss() {
	if c.recorder != nil {
		c.recorder.CacheMiss(cacheType)
	}
}
