package tokeninfra

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/redis/go-redis/v9"
)

// CachedBlacklistRepository fronts another BlacklistRepository with a Redis
// SET-per-jti cache. Postgres stays authoritative; a cache miss or Redis
// outage always falls through to it, so a dead cache degrades to slower
// reads rather than an incorrect accept.
type CachedBlacklistRepository struct {
	inner oauth.BlacklistRepository
	rdb   *redis.Client
}

func NewCachedBlacklistRepository(inner oauth.BlacklistRepository, rdb *redis.Client) *CachedBlacklistRepository {
	return &CachedBlacklistRepository{inner: inner, rdb: rdb}
}

func blacklistKey(jti string) string { return fmt.Sprintf("oauth:blacklist:%s", jti) }

func (c *CachedBlacklistRepository) Add(ctx context.Context, entry oauth.BlacklistEntry) error {
	if err := c.inner.Add(ctx, entry); err != nil {
		return err
	}
	c.cacheSet(ctx, entry)
	return nil
}

func (c *CachedBlacklistRepository) BulkAdd(ctx context.Context, entries []oauth.BlacklistEntry) error {
	if err := c.inner.BulkAdd(ctx, entries); err != nil {
		return err
	}
	for _, entry := range entries {
		c.cacheSet(ctx, entry)
	}
	return nil
}

func (c *CachedBlacklistRepository) cacheSet(ctx context.Context, entry oauth.BlacklistEntry) {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := c.rdb.Set(ctx, blacklistKey(entry.JTI), "1", ttl).Err(); err != nil {
		logx.WithError(err).Warn("tokeninfra: failed to populate blacklist cache")
	}
}

func (c *CachedBlacklistRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, blacklistKey(jti)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		logx.WithError(err).Warn("tokeninfra: blacklist cache read failed, falling through to store")
	}
	return c.inner.IsBlacklisted(ctx, jti)
}

func (c *CachedBlacklistRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return c.inner.PurgeExpired(ctx, before)
}
