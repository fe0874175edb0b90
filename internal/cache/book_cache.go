// Package cache fronts Store.Book with a short-TTL Redis cache. It is
// strictly an optimization: every method degrades to calling the store
// directly, with a logged warning, if Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clobx/exchange/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type bookEntry struct {
	Bids []models.BookLevel `json:"bids"`
	Asks []models.BookLevel `json:"asks"`
}

// BookCache wraps a redis.Client with the order-book-volatility-scale TTL
// used to absorb repeated polling of the same asset's book.
type BookCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *BookCache {
	return &BookCache{client: client, ttl: ttl, logger: logger}
}

func bookKey(asset string) string {
	return fmt.Sprintf("book:%s", asset)
}

// Get returns the cached book for asset, if present and unexpired. ok is
// false on a cache miss or any Redis error (logged at warn, not propagated).
func (c *BookCache) Get(ctx context.Context, asset string) (bids, asks []models.BookLevel, ok bool) {
	if c == nil || c.client == nil {
		return nil, nil, false
	}
	data, err := c.client.Get(ctx, bookKey(asset)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("book cache: get failed, falling back to store", zap.String("asset", asset), zap.Error(err))
		}
		return nil, nil, false
	}
	var entry bookEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("book cache: corrupt entry, falling back to store", zap.String("asset", asset), zap.Error(err))
		return nil, nil, false
	}
	return entry.Bids, entry.Asks, true
}

// Put stores bids/asks for asset with the cache's TTL. Failures are logged
// and otherwise ignored; a write-through cache is never load-bearing.
func (c *BookCache) Put(ctx context.Context, asset string, bids, asks []models.BookLevel) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(bookEntry{Bids: bids, Asks: asks})
	if err != nil {
		c.logger.Warn("book cache: marshal failed", zap.String("asset", asset), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, bookKey(asset), data, c.ttl).Err(); err != nil {
		c.logger.Warn("book cache: set failed", zap.String("asset", asset), zap.Error(err))
	}
}

// Invalidate drops the cached book for asset. Called on every admitted order
// and every executed trade for that asset so a stale level never outlives a
// mutation longer than one round trip to Redis.
func (c *BookCache) Invalidate(ctx context.Context, asset string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, bookKey(asset)).Err(); err != nil {
		c.logger.Warn("book cache: invalidate failed", zap.String("asset", asset), zap.Error(err))
	}
}

// Ping checks Redis reachability at startup so construction failures are
// visible in logs immediately rather than as a stream of per-request warnings.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
