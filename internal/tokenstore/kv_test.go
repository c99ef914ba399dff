package tokenstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/flightbook/internal/events"
	"github.com/TheMichaelB/flightbook/internal/tokenstore"
)

func TestMemoryKV(t *testing.T) {
	kv := tokenstore.NewMemoryKV()
	defer kv.Close()

	testKVOperations(t, kv)
}

func TestFileKV(t *testing.T) {
	kv, err := tokenstore.NewFileKV(filepath.Join(t.TempDir(), "session.json"), events.Discard())
	require.NoError(t, err)
	defer kv.Close()

	testKVOperations(t, kv)
}

func TestSQLiteKV(t *testing.T) {
	kv, err := tokenstore.NewSQLiteKV(filepath.Join(t.TempDir(), "session.db"), events.Discard())
	require.NoError(t, err)
	defer kv.Close()

	testKVOperations(t, kv)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := tokenstore.NewRedisKV(client)
	testKVOperations(t, kv)

	t.Run("dial", func(t *testing.T) {
		dialed, err := tokenstore.DialRedis(context.Background(), mr.Addr(), "", 0)
		require.NoError(t, err)
		require.NoError(t, dialed.Close())
	})
}

func TestPrefixedKV(t *testing.T) {
	ctx := context.Background()
	shared := tokenstore.NewMemoryKV()

	alice := tokenstore.Prefixed(shared, "visitor:alice:")
	bob := tokenstore.Prefixed(shared, "visitor:bob:")

	testKVOperations(t, alice)

	require.NoError(t, alice.SetAll(ctx, map[string]string{"token": "a"}))
	require.NoError(t, bob.SetAll(ctx, map[string]string{"token": "b"}))

	v, ok, err := alice.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	require.NoError(t, alice.DeletePrefix(ctx, ""))

	_, ok, err = alice.Get(ctx, "token")
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, err = bob.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	require.NoError(t, alice.Close())
	_, _, err = shared.Get(ctx, "visitor:bob:token")
	assert.NoError(t, err, "closing a prefixed view leaves the backend open")
}

func testKVOperations(t *testing.T, kv tokenstore.KV) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		v, ok, err := kv.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("set all and get", func(t *testing.T) {
		require.NoError(t, kv.SetAll(ctx, map[string]string{
			"token":        "access",
			"refreshToken": "refresh",
		}))

		v, ok, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "access", v)

		v, ok, err = kv.Get(ctx, "refreshToken")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "refresh", v)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, kv.SetAll(ctx, map[string]string{"token": "newer"}))

		v, _, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "newer", v)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, kv.Delete(ctx, "token", "missing"))

		_, ok, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = kv.Get(ctx, "refreshToken")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete nothing", func(t *testing.T) {
		assert.NoError(t, kv.Delete(ctx))
	})

	t.Run("delete prefix", func(t *testing.T) {
		require.NoError(t, kv.SetAll(ctx, map[string]string{
			"session:returnTo": "/admin",
			"session:other":    "x",
		}))

		require.NoError(t, kv.DeletePrefix(ctx, "session:"))

		_, ok, err := kv.Get(ctx, "session:returnTo")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = kv.Get(ctx, "refreshToken")
		require.NoError(t, err)
		assert.True(t, ok, "keys outside the prefix survive")
	})

	t.Run("set if equal", func(t *testing.T) {
		ok, err := kv.SetIfEqual(ctx, "refreshToken", "stale", map[string]string{"token": "lost"})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = kv.SetIfEqual(ctx, "absent", "", map[string]string{"token": "lost"})
		require.NoError(t, err)
		assert.False(t, ok, "an absent key never matches")

		_, found, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.False(t, found)

		ok, err = kv.SetIfEqual(ctx, "refreshToken", "refresh", map[string]string{"token": "won"})
		require.NoError(t, err)
		assert.True(t, ok)

		v, _, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "won", v)
	})
}

func TestMemoryKVClosed(t *testing.T) {
	ctx := context.Background()
	kv := tokenstore.NewMemoryKV()
	require.NoError(t, kv.Close())

	_, _, err := kv.Get(ctx, "token")
	assert.ErrorIs(t, err, tokenstore.ErrClosed)
	assert.ErrorIs(t, kv.SetAll(ctx, map[string]string{"a": "b"}), tokenstore.ErrClosed)
}

func TestFileKVPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	kv, err := tokenstore.NewFileKV(path, events.Discard())
	require.NoError(t, err)
	require.NoError(t, kv.SetAll(ctx, map[string]string{"token": "abc"}))

	t.Run("file mode", func(t *testing.T) {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("visible to a second instance", func(t *testing.T) {
		other, err := tokenstore.NewFileKV(path, events.Discard())
		require.NoError(t, err)

		v, ok, err := other.Get(ctx, "token")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "abc", v)
	})

	t.Run("falls back to backup", func(t *testing.T) {
		require.NoError(t, kv.SetAll(ctx, map[string]string{"token": "def"}))
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

		v, ok, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "def", v, "backup holds the latest write")
	})

	t.Run("corrupt without backup", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))
		require.NoError(t, os.WriteFile(path+".backup", []byte("also broken"), 0600))

		_, _, err := kv.Get(ctx, "token")
		assert.ErrorIs(t, err, tokenstore.ErrCorrupt)

		// Writes replace the corrupt file.
		require.NoError(t, kv.SetAll(ctx, map[string]string{"token": "fresh"}))
		v, _, err := kv.Get(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "fresh", v)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		require.NoError(t, os.Remove(path+".backup"))
		data, err := os.ReadFile(path)
		require.NoError(t, err)

		tampered := strings.Replace(string(data), `"fresh"`, `"forged"`, 1)
		require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

		_, _, err = kv.Get(ctx, "token")
		assert.ErrorIs(t, err, tokenstore.ErrCorrupt)
	})
}
