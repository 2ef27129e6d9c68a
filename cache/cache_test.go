package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts ...Option) (*AudioCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("Hello world", "edge", "en-US-JennyNeural", 1.0, "mp3")
	k2 := Key("Hello world", "edge", "en-US-JennyNeural", 1.0, "mp3")

	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "tts:audio:"))
	// sha256 hex digest after the prefix
	assert.Len(t, strings.TrimPrefix(k1, "tts:audio:"), 64)
}

func TestKey_DistinguishesParameters(t *testing.T) {
	base := Key("Hello", "edge", "en-US-JennyNeural", 1.0, "mp3")

	assert.NotEqual(t, base, Key("Hello!", "edge", "en-US-JennyNeural", 1.0, "mp3"))
	assert.NotEqual(t, base, Key("Hello", "openai", "en-US-JennyNeural", 1.0, "mp3"))
	assert.NotEqual(t, base, Key("Hello", "edge", "en-US-AriaNeural", 1.0, "mp3"))
	assert.NotEqual(t, base, Key("Hello", "edge", "en-US-JennyNeural", 1.5, "mp3"))
	assert.NotEqual(t, base, Key("Hello", "edge", "en-US-JennyNeural", 1.0, "wav"))
}

func TestAudioCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Key("Hello", "edge", "en-US-JennyNeural", 1.0, "mp3")

	_, ok := c.Get(ctx, key)
	assert.False(t, ok, "empty cache should miss")

	c.Set(ctx, key, []byte("encoded-audio"))

	data, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []byte("encoded-audio"), data)
}

func TestAudioCache_TTL(t *testing.T) {
	c, mr := newTestCache(t, WithTTL(time.Minute))
	ctx := context.Background()
	key := Key("Hello", "edge", "en-US-JennyNeural", 1.0, "mp3")

	c.Set(ctx, key, []byte("audio"))
	require.True(t, mr.Exists(key))

	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, key)
	assert.False(t, ok, "entry should expire")
}

func TestAudioCache_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := Key("Hello", "edge", "en-US-JennyNeural", 1.0, "mp3")

	c.Set(ctx, key, []byte("audio"))
	c.Delete(ctx, key)

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
}

func TestAudioCache_ClearAll(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		c.Set(ctx, Key(text, "edge", "v", 1.0, "mp3"), []byte(text))
	}
	// A non-audio key survives the clear.
	require.NoError(t, mr.Set("other:key", "untouched"))

	removed, err := c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.True(t, mr.Exists("other:key"))
	stats := c.Stats(ctx)
	assert.EqualValues(t, 0, stats.Items)
}

func TestAudioCache_Stats(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, Key("one", "edge", "v", 1.0, "mp3"), []byte("a"))
	c.Set(ctx, Key("two", "edge", "v", 1.0, "mp3"), []byte("b"))

	stats := c.Stats(ctx)
	assert.True(t, stats.Connected)
	assert.EqualValues(t, 2, stats.Items)
}

func TestAudioCache_DegradesWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	defer c.Close()

	mr.Close()

	ctx := context.Background()
	key := Key("Hello", "edge", "v", 1.0, "mp3")

	// No panics, no errors surfaced.
	c.Set(ctx, key, []byte("audio"))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	c.Delete(ctx, key)

	stats := c.Stats(ctx)
	assert.False(t, stats.Connected)
}

func TestAudioCache_BadURL(t *testing.T) {
	_, err := New("not-a-url")
	require.Error(t, err)
}

func TestNewWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c, err := New("redis://ignored:6379", WithClient(client))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "tts:audio:test", []byte("x"))
	data, ok := c.Get(ctx, "tts:audio:test")
	require.True(t, ok)
	assert.Equal(t, []byte("x"), data)
}
