package entitlement

import (
	"context"
	"time"

	"remindly/internal/cache"
	"remindly/internal/metrics"

	"go.uber.org/zap"
)

// Cached memoizes answers of another Checker. Cache failures are logged and
// fall through to the source.
type Cached struct {
	Source Checker
	Cache  cache.Cache
	TTL    time.Duration
	Logger *zap.Logger
}

func NewCached(src Checker, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{Source: src, Cache: c, TTL: ttl, Logger: logger}
}

func (c *Cached) IsFeatureEnabled(ctx context.Context, userID uint64, feature Feature) (bool, error) {
	key := cache.EntitlementKey(userID, string(feature))

	b, ok, err := c.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.IncEntitlementCache("error")
		c.Logger.Warn("entitlement cache get", zap.String("key", key), zap.Error(err))
	case ok && len(b) == 1:
		metrics.IncEntitlementCache("hit")
		return b[0] == '1', nil
	default:
		metrics.IncEntitlementCache("miss")
	}

	enabled, err := c.Source.IsFeatureEnabled(ctx, userID, feature)
	if err != nil {
		return false, err
	}

	v := []byte("0")
	if enabled {
		v = []byte("1")
	}
	if err := c.Cache.Set(ctx, key, v, c.TTL); err != nil {
		c.Logger.Warn("entitlement cache set", zap.String("key", key), zap.Error(err))
	}
	return enabled, nil
}

// Invalidate drops every cached answer for userID.
func (c *Cached) Invalidate(ctx context.Context, userID uint64) error {
	keys := make([]string, 0, len(AllFeatures))
	for _, f := range AllFeatures {
		keys = append(keys, cache.EntitlementKey(userID, string(f)))
	}
	return c.Cache.Del(ctx, keys...)
}
