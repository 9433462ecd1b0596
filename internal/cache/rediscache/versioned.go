package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KEYS: value, version, fence. ARGV: version, value, ttl ms.
var setVersionedScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[3]) or '-1')
local cur = tonumber(redis.call('GET', KEYS[2]) or '-1')
local v = tonumber(ARGV[1])
if v <= fence or v < cur then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[3])
return 1
`)

// KEYS: value, version, fence. ARGV: fence, ttl ms.
var fenceScript = redis.NewScript(`
local f = tonumber(ARGV[1])
local old = tonumber(redis.call('GET', KEYS[3]) or '-1')
if f > old then
  redis.call('SET', KEYS[3], ARGV[1], 'PX', ARGV[2])
end
local cur = tonumber(redis.call('GET', KEYS[2]) or '-1')
if cur <= f then
  redis.call('DEL', KEYS[1], KEYS[2])
end
return 1
`)

// Служебные ключи лежат рядом с основным: при hash tag в key попадают в тот же слот.
func versionedKeys(key string) []string {
	return []string{key, key + ":rev", key + ":fence"}
}

func (r *RedisCache) SetVersioned(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	n, err := setVersionedScript.Run(ctx, r.c, versionedKeys(key), version, value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis set versioned")
	}
	return n == 1, nil
}

func (r *RedisCache) Fence(ctx context.Context, key string, fence int64, ttl time.Duration) error {
	if err := fenceScript.Run(ctx, r.c, versionedKeys(key), fence, ttl.Milliseconds()).Err(); err != nil {
		return errors.Wrap(err, "redis fence")
	}
	return nil
}
