package simplekv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSimpleKV(t *testing.T) {
	ctx := context.Background()
	kv := New[string, int]()

	_, err := kv.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotExists)

	require.NoError(t, kv.Set(ctx, "k", 42, 0))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, kv.Len())

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotExists)
}

func TestSimpleKVTTL(t *testing.T) {
	ctx := context.Background()
	kv := New[string, string]()

	require.NoError(t, kv.Set(ctx, "short", "v", time.Millisecond))
	require.NoError(t, kv.Set(ctx, "forever", "v", 0))

	time.Sleep(5 * time.Millisecond)

	_, err := kv.Get(ctx, "short")
	require.ErrorIs(t, err, ErrNotExists)

	_, err = kv.Get(ctx, "forever")
	require.NoError(t, err)
}

func TestSimpleKVCleanup(t *testing.T) {
	ctx := context.Background()
	kv := New[string, string]()

	require.NoError(t, kv.Set(ctx, "short", "v", time.Millisecond))
	require.NoError(t, kv.Set(ctx, "forever", "v", 0))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, kv.Cleanup(ctx))

	require.Equal(t, 1, kv.Len())

	_, err := kv.Get(ctx, "forever")
	require.NoError(t, err, "entries without TTL survive cleanup")
}
