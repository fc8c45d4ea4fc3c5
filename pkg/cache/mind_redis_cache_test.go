package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedInsight struct {
	Labels []string `json:"labels"`
	Score  float64  `json:"score"`
}

func testCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestGetJSONMissReturnsFalse(t *testing.T) {
	c, _ := testCache(t)

	var dest cachedInsight
	hit, err := c.GetJSON(context.Background(), "absent", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSetAndGetJSONRoundTrip(t *testing.T) {
	c, _ := testCache(t)

	in := cachedInsight{Labels: []string{"DecisionRequired"}, Score: 0.82}
	require.NoError(t, c.SetJSON(context.Background(), "analysis:abc", in, time.Hour))

	var out cachedInsight
	hit, err := c.GetJSON(context.Background(), "analysis:abc", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, in, out)
}

func TestTTLExpiryMisses(t *testing.T) {
	c, mr := testCache(t)

	require.NoError(t, c.SetJSON(context.Background(), "k", cachedInsight{Score: 1}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var out cachedInsight
	hit, err := c.GetJSON(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestDeleteRemovesKey(t *testing.T) {
	c, _ := testCache(t)

	require.NoError(t, c.SetJSON(context.Background(), "k", cachedInsight{Score: 1}, time.Hour))
	require.NoError(t, c.Delete(context.Background(), "k"))

	var out cachedInsight
	hit, err := c.GetJSON(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}
