package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const redisKeyPrefix = "lobby:state:"

// RedisBackend relies on native key expiry, so DeleteExpired has nothing
// to do.
type RedisBackend struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: redisKeyPrefix, now: time.Now}
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func (b *RedisBackend) Name() string {
	return "redis"
}

func (b *RedisBackend) Get(ctx context.Context, key string) (Entry, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get %q: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode state %q: %w", key, err)
	}
	return e, nil
}

func (b *RedisBackend) Put(ctx context.Context, e Entry) error {
	var ttl time.Duration
	if e.ExpiresAt != nil {
		ttl = e.ExpiresAt.Sub(b.now())
		if ttl <= 0 {
			return b.Delete(ctx, e.Key)
		}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := b.client.Set(ctx, b.prefix+e.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", e.Key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// scan returns the unprefixed keys matching prefix. SCAN may report a key
// more than once, so the result is deduplicated.
func (b *RedisBackend) scan(ctx context.Context, prefix string) ([]string, error) {
	match := EscapeGlob(b.prefix+prefix) + "*"
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			seen[k[len(b.prefix):]] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (b *RedisBackend) Keys(ctx context.Context, prefix string, now time.Time) ([]string, error) {
	return b.scan(ctx, prefix)
}

func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := b.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.prefix + k
	}
	n, err := b.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

func (b *RedisBackend) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
