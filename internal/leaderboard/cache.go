// Package leaderboard fronts the ranking aggregator with a TTL cache.
// Caching is a latency optimization, never a correctness dependency: a Redis
// outage degrades every read to always-compute, and concurrent misses
// collapse into a single computation via singleflight.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/brvmchallenge/engine/internal/metrics"
	"github.com/brvmchallenge/engine/internal/model"
	"github.com/brvmchallenge/engine/internal/ranking"
)

// ErrUnavailable is returned when a computation failed and no cached value
// exists to fall back on. Callers should surface it as a retryable error.
var ErrUnavailable = errors.New("leaderboard: temporarily unavailable")

// DefaultTTL bounds how stale a cached leaderboard page may get for users
// other than the one who just traded.
const DefaultTTL = 5 * time.Minute

// board is the in-process last-good snapshot kept as a fallback for
// computation timeouts.
type board struct {
	entries    []model.LeaderboardEntry
	computedAt time.Time
}

// Computer produces a full ordered leaderboard. Implemented by
// ranking.Aggregator.
type Computer interface {
	Compute(ctx context.Context) ([]model.LeaderboardEntry, error)
}

// Cache memoizes leaderboard reads. Top-N pages are cached per requested
// page size; personal ranks per user. A CONCOURS trade invalidates only the
// trader's personal rank — their own numbers are fresh on the next read,
// while everyone else tolerates up to TTL staleness.
type Cache struct {
	agg      Computer
	rdb      *redis.Client // nil → no cache backend, always compute
	ttl      time.Duration
	group    singleflight.Group
	lastGood atomic.Pointer[board]
}

// New creates a leaderboard cache. rdb may be nil to disable the backend.
func New(agg Computer, rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{agg: agg, rdb: rdb, ttl: ttl}
}

// TopN returns the first limit leaderboard entries. The second return is
// true when the response was served from cache (for observability headers).
func (c *Cache) TopN(ctx context.Context, limit int) ([]model.LeaderboardEntry, bool, error) {
	if limit <= 0 {
		limit = 10
	}
	key := topKey(limit)

	if data, ok := c.cacheGet(ctx, key); ok {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			metrics.CacheHits.WithLabelValues("top").Inc()
			return entries, true, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("top").Inc()

	entries, stale, err := c.compute(ctx)
	if err != nil {
		return nil, false, err
	}

	page := entries
	if len(page) > limit {
		page = page[:limit]
	}
	if !stale {
		c.cacheSet(ctx, key, page)
	}
	return page, stale, nil
}

// MyRank returns one user's rank, consistent with the full ordered list.
func (c *Cache) MyRank(ctx context.Context, userID string) (ranking.Rank, bool, error) {
	key := rankKey(userID)

	if data, ok := c.cacheGet(ctx, key); ok {
		var r ranking.Rank
		if json.Unmarshal(data, &r) == nil {
			metrics.CacheHits.WithLabelValues("myrank").Inc()
			return r, true, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("myrank").Inc()

	entries, stale, err := c.compute(ctx)
	if err != nil {
		return ranking.Rank{}, false, err
	}

	r, err := ranking.FindRank(entries, userID)
	if err != nil {
		return ranking.Rank{}, false, err
	}
	if !stale {
		c.cacheSet(ctx, key, r)
	}
	return r, stale, nil
}

// InvalidateUser drops a user's cached personal rank. Called by the trade
// processor after every CONCOURS trade so the trader's next "my rank" read
// recomputes, even while top-N pages keep serving until TTL.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, rankKey(userID)).Err(); err != nil {
		metrics.CacheErrors.Inc()
		slog.Warn("leaderboard: invalidation failed", "user", userID, "err", err)
	}
}

// Refresh recomputes the full board and repopulates the default top page.
// Used by the periodic cache warmer.
func (c *Cache) Refresh(ctx context.Context) error {
	entries, err := c.agg.Compute(ctx)
	if err != nil {
		return err
	}
	c.lastGood.Store(&board{entries: entries, computedAt: time.Now()})

	page := entries
	if len(page) > 10 {
		page = page[:10]
	}
	c.cacheSet(ctx, topKey(10), page)
	return nil
}

// compute runs the aggregator, collapsing concurrent callers into a single
// pass. On failure it falls back to the last good in-process snapshot when
// one exists; the second return reports that fallback (treated as a cache
// hit, never re-cached).
func (c *Cache) compute(ctx context.Context) ([]model.LeaderboardEntry, bool, error) {
	v, err, _ := c.group.Do("board", func() (interface{}, error) {
		entries, err := c.agg.Compute(ctx)
		if err != nil {
			return nil, err
		}
		c.lastGood.Store(&board{entries: entries, computedAt: time.Now()})
		return entries, nil
	})
	if err != nil {
		if last := c.lastGood.Load(); last != nil {
			slog.Warn("leaderboard: compute failed, serving last good snapshot",
				"err", err, "age", time.Since(last.computedAt).String())
			return last.entries, true, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.([]model.LeaderboardEntry), false, nil
}

// cacheGet reads a key, degrading silently on backend failure.
func (c *Cache) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return data, true
	}
	if !errors.Is(err, redis.Nil) {
		metrics.CacheErrors.Inc()
		slog.Warn("leaderboard: cache read failed", "key", key, "err", err)
	}
	return nil, false
}

// cacheSet writes a key with TTL, degrading silently on backend failure.
func (c *Cache) cacheSet(ctx context.Context, key string, v interface{}) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		metrics.CacheErrors.Inc()
		slog.Warn("leaderboard: cache write failed", "key", key, "err", err)
	}
}

func topKey(limit int) string      { return fmt.Sprintf("lb:top:%d", limit) }
func rankKey(userID string) string { return fmt.Sprintf("lb:rank:%s", userID) }
