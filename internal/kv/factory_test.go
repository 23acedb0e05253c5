package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, url := range []string{"", "memory://"} {
		store, err := Open(ctx, Config{URL: url})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)
		assert.NoError(t, store.Ping(ctx))
		assert.NoError(t, store.Close())
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "ftp://example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported kv url scheme")
}

func TestOpen_InvalidRedisURL(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "redis://:bad:port/x"})
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `client:`, escapeGlob("client:"))
	assert.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
}

func TestConfigCleanupInterval(t *testing.T) {
	assert.Equal(t, 60.0, Config{}.cleanupInterval().Seconds())
	assert.Equal(t, 5.0, Config{CleanupInterval: 5}.cleanupInterval().Seconds())
}
