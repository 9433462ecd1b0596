package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "flight:PK303:current", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "flight:PK303:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Del(ctx, "flight:PK303:current"))
	_, ok, err = c.Get(ctx, "flight:PK303:current")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_TTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_ErrorWrapped(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "redis get")
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	mr.FastForward(2 * time.Minute)
	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRedisCache_SetVersionedKeepsNewest(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	key := "flight:{PK303}:current"

	ok, err := c.SetVersioned(ctx, key, 5, []byte("v5"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// запись, проигравшая гонку, не перетирает более новую
	ok, err = c.SetVersioned(ctx, key, 4, []byte("v4"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	b, _, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("v5"), b)

	ok, err = c.SetVersioned(ctx, key, 5, []byte("v5"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = c.SetVersioned(ctx, key, 1, []byte("v1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisCache_FenceRejectsOlderRefill(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	key := "flight:{PK303}:current"

	_, err := c.SetVersioned(ctx, key, 5, []byte("active"), time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Fence(ctx, key, 6, time.Minute))
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.SetVersioned(ctx, key, 5, []byte("active"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = c.SetVersioned(ctx, key, 6, []byte("active"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// следующая инкарнация рейса проходит
	ok, err = c.SetVersioned(ctx, key, 7, []byte("next"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// более старый fence не трогает новую запись и не понижает порог
	require.NoError(t, c.Fence(ctx, key, 3, time.Minute))
	b, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("next"), b)
	fence, err := mr.Get(key + ":fence")
	require.NoError(t, err)
	require.Equal(t, "6", fence)
}

func TestRedisCache_DelMissingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Del(context.Background(), "flight:{NOPE}:current"))
	require.False(t, mr.Exists("flight:{NOPE}:current"))
}
