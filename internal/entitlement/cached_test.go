package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memCache struct {
	data   map[string][]byte
	getErr error
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, v []byte, _ time.Duration) error {
	m.data[key] = v
	return nil
}

func (m *memCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memCache) Close() error { return nil }

type countingChecker struct {
	enabled bool
	err     error
	calls   int
}

func (c *countingChecker) IsFeatureEnabled(context.Context, uint64, Feature) (bool, error) {
	c.calls++
	return c.enabled, c.err
}

func TestCachedHitAndMiss(t *testing.T) {
	src := &countingChecker{enabled: true}
	mc := newMemCache()
	c := NewCached(src, mc, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.IsFeatureEnabled(ctx, 1, FeatureSmartSnooze)
		if err != nil || !ok {
			t.Fatalf("call %d = %v, %v", i, ok, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}
	if string(mc.data["entitlement:1:smart_snooze"]) != "1" {
		t.Fatalf("cache = %v", mc.data)
	}
}

func TestCachedStoresNegativeAnswers(t *testing.T) {
	src := &countingChecker{enabled: false}
	c := NewCached(src, newMemCache(), time.Minute, nil)

	for i := 0; i < 2; i++ {
		if ok, _ := c.IsFeatureEnabled(context.Background(), 1, FeaturePushNotifications); ok {
			t.Fatalf("expected disabled")
		}
	}
	if src.calls != 1 {
		t.Fatalf("source called %d times, want 1", src.calls)
	}
}

func TestCachedFallsThroughOnCacheError(t *testing.T) {
	src := &countingChecker{enabled: true}
	mc := newMemCache()
	mc.getErr = errors.New("redis down")
	c := NewCached(src, mc, time.Minute, nil)

	ok, err := c.IsFeatureEnabled(context.Background(), 1, FeatureSmartSnooze)
	if err != nil || !ok {
		t.Fatalf("IsFeatureEnabled = %v, %v", ok, err)
	}
}

func TestCachedSourceErrorNotCached(t *testing.T) {
	src := &countingChecker{err: errors.New("db down")}
	mc := newMemCache()
	c := NewCached(src, mc, time.Minute, nil)

	if _, err := c.IsFeatureEnabled(context.Background(), 1, FeatureSmartSnooze); err == nil {
		t.Fatalf("expected source error")
	}
	if len(mc.data) != 0 {
		t.Fatalf("error answer cached: %v", mc.data)
	}
}

func TestCachedInvalidate(t *testing.T) {
	src := &countingChecker{enabled: true}
	mc := newMemCache()
	c := NewCached(src, mc, time.Minute, nil)
	ctx := context.Background()

	_, _ = c.IsFeatureEnabled(ctx, 1, FeatureSmartSnooze)
	_, _ = c.IsFeatureEnabled(ctx, 2, FeatureSmartSnooze)
	if err := c.Invalidate(ctx, 1); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := mc.data["entitlement:1:smart_snooze"]; ok {
		t.Fatalf("user 1 still cached")
	}
	if _, ok := mc.data["entitlement:2:smart_snooze"]; !ok {
		t.Fatalf("user 2 evicted")
	}
}
