package calcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Generation counters outlive every entry built on them.
const genTTL = 24 * time.Hour

type Redis struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis stores entries under prefix (for example the service name) with the given TTL.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, prefix string) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (r *Redis) genKey(ownerID string) string {
	return r.prefix + "calendar-gen:" + ownerID
}

func (r *Redis) Key(ctx context.Context, ownerIDs []string, query string) (string, error) {
	owners := canonicalOwners(ownerIDs)
	gens := make([]int64, len(owners))
	if len(owners) > 0 {
		keys := make([]string, len(owners))
		for i, o := range owners {
			keys[i] = r.genKey(o)
		}
		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return "", fmt.Errorf("read cache generations: %w", err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				gens[i] = n
			}
		}
	}
	return r.prefix + buildKey(owners, gens, query), nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// InvalidateOwner bumps the generation, then removes the owner's single-owner entries. Team
// entries holding the owner become unreachable through the generation and age out with the TTL.
func (r *Redis) InvalidateOwner(ctx context.Context, ownerID string) error {
	gk := r.genKey(ownerID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, gk)
		p.Expire(ctx, gk, genTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}

	pattern := r.prefix + keyPrefix + escapeGlob(keyOwner(ownerID)) + "@*"
	iter := r.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	var stale []string
	for iter.Next(ctx) {
		key := iter.Val()
		if keyCoversOwner(strings.TrimPrefix(key, r.prefix), ownerID) {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache entries: %w", err)
	}
	if len(stale) > 0 {
		if err := r.rdb.Del(ctx, stale...).Err(); err != nil {
			return fmt.Errorf("drop cache entries: %w", err)
		}
	}
	return nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
