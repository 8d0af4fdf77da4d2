package cache

import (
	"context"
	cryptorand "crypto/rand"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestFingerprintIsStableUnderQueryParamReordering(t *testing.T) {
	a := Fingerprint("/analyze", map[string][]string{"url": {"x"}, "ref": {"y"}})
	b := Fingerprint("/analyze", map[string][]string{"ref": {"y"}, "url": {"x"}})
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersByPath(t *testing.T) {
	a := Fingerprint("/analyze", nil)
	b := Fingerprint("/health", nil)
	assert.NotEqual(t, a, b)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	fp := Fingerprint("/analyze", nil)

	require.NoError(t, c.Set(ctx, fp, "application/json", []byte(`{"ok":true}`)))

	entry, hit, err := c.Get(ctx, "/analyze", fp)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, `{"ok":true}`, entry.Body)
}

func TestGetOnMissReturnsFalseWithoutError(t *testing.T) {
	c := newTestCache(t)
	entry, hit, err := c.Get(context.Background(), "/analyze", "unknown")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, entry)
}

func TestGetIncrementsHitCount(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	fp := Fingerprint("/analyze", nil)
	require.NoError(t, c.Set(ctx, fp, "application/json", []byte(`{}`)))

	_, _, err := c.Get(ctx, "/analyze", fp)
	require.NoError(t, err)
	entry, _, err := c.Get(ctx, "/analyze", fp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.HitCount)
}

func TestAdaptiveTTLGrowsWithHitCountAndCapsAtMax(t *testing.T) {
	assert.Equal(t, baseTTL, adaptiveTTL(0))
	assert.Equal(t, 2*baseTTL, adaptiveTTL(10))
	assert.Equal(t, maxTTL, adaptiveTTL(10000))
}

func TestLargeBodyIsCompressedOnWrite(t *testing.T) {
	body := []byte(strings.Repeat("a", compressionThreshold+1))
	stored, err := maybeCompress(body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(stored), compressionMarker))

	restored, err := maybeDecompress(stored)
	require.NoError(t, err)
	assert.Equal(t, body, restored)
}

func TestSmallBodyIsNotCompressed(t *testing.T) {
	body := []byte("tiny")
	stored, err := maybeCompress(body)
	require.NoError(t, err)
	assert.Equal(t, body, stored)
}

func TestIncompressibleLargeBodyIsStoredPlain(t *testing.T) {
	body := make([]byte, compressionThreshold+1)
	_, err := cryptorand.Read(body)
	require.NoError(t, err)

	stored, err := maybeCompress(body)
	require.NoError(t, err)
	assert.Equal(t, body, stored, "compressed form must not be kept when it isn't smaller")
}

func TestWarmUpCandidatesRequireMinSamplesAndMissRatio(t *testing.T) {
	c := newTestCache(t)
	for i := 0; i < 9; i++ {
		c.recordSample("/rare-miss", false)
	}
	assert.Empty(t, c.WarmUpCandidates(), "below warmUpMinSamples must not qualify")

	c.recordSample("/rare-miss", false)
	assert.Contains(t, c.WarmUpCandidates(), "/rare-miss")

	for i := 0; i < 20; i++ {
		c.recordSample("/mostly-hit", true)
	}
	c.recordSample("/mostly-hit", false)
	assert.NotContains(t, c.WarmUpCandidates(), "/mostly-hit")
}

func TestEvictSkipsWhenUnderBudget(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "fp1", "application/json", []byte("small")))

	n, err := c.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
