package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/carelink/core"
)

// fastKDF keeps file store tests quick.
var fastKDF = kdfParams{time: 1, memory: 8 * 1024, threads: 1, keyLen: 32}

func newTestFile(t *testing.T, key string) *File {
	t.Helper()
	f, err := NewFile(filepath.Join(t.TempDir(), "nested", "tokens.enc"), []byte(key))
	require.NoError(t, err)
	f.kdf = fastKDF
	return f
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// exerciseStore runs the TokenStore contract against s.
func exerciseStore(t *testing.T, s core.TokenStore) {
	ctx := context.Background()

	access, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)

	require.NoError(t, core.SaveTokens(ctx, s, core.TokenPair{
		Access:  core.NewSecret("access-1"),
		Refresh: core.NewSecret("refresh-1"),
	}))
	access, err = s.AccessToken(ctx)
	require.NoError(t, err)
	refresh, err := s.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	assert.Equal(t, "refresh-1", refresh)

	require.NoError(t, s.ClearAccessToken(ctx))
	access, _ = s.AccessToken(ctx)
	refresh, _ = s.RefreshToken(ctx)
	assert.Empty(t, access)
	assert.Equal(t, "refresh-1", refresh)

	require.NoError(t, core.ClearTokens(ctx, s))
	refresh, _ = s.RefreshToken(ctx)
	assert.Empty(t, refresh)

	// Clearing an empty store is not an error.
	require.NoError(t, core.ClearTokens(ctx, s))
}

func TestStores(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		exerciseStore(t, NewMemory())
	})
	t.Run("file", func(t *testing.T) {
		exerciseStore(t, newTestFile(t, "master"))
	})
	t.Run("redis", func(t *testing.T) {
		_, client := newTestRedis(t)
		exerciseStore(t, NewRedis(client, "test:"))
	})
}

func TestStoresConcurrentUse(t *testing.T) {
	_, client := newTestRedis(t)
	stores := map[string]core.TokenStore{
		"memory": NewMemory(),
		"file":   newTestFile(t, "master"),
		"redis":  NewRedis(client, ""),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.SaveAccessToken(ctx, "a"))
					assert.NoError(t, s.SaveRefreshToken(ctx, "r"))
					_, err := s.AccessToken(ctx)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			access, _ := s.AccessToken(ctx)
			refresh, _ := s.RefreshToken(ctx)
			assert.Equal(t, "a", access)
			assert.Equal(t, "r", refresh)
		})
	}
}

func TestFileFormatAndPermissions(t *testing.T) {
	f := newTestFile(t, "master")
	require.NoError(t, f.SaveAccessToken(context.Background(), "eyJ-secret"))

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, "CLNK", string(data[:4]))
	assert.Equal(t, formatV1, data[4])
	assert.NotContains(t, string(data), "eyJ-secret")
}

func TestFilePersistsAcrossInstances(t *testing.T) {
	first := newTestFile(t, "master")
	require.NoError(t, first.SaveRefreshToken(context.Background(), "r-1"))

	second, err := NewFile(first.Path(), []byte("master"))
	require.NoError(t, err)
	second.kdf = fastKDF

	refresh, err := second.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r-1", refresh)
}

func TestFileWrongKey(t *testing.T) {
	first := newTestFile(t, "master")
	require.NoError(t, first.SaveAccessToken(context.Background(), "a"))

	other, err := NewFile(first.Path(), []byte("other"))
	require.NoError(t, err)
	other.kdf = fastKDF

	_, err = other.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestFileRejectsUnknownFormat(t *testing.T) {
	f := newTestFile(t, "master")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.Path()), 0700))
	require.NoError(t, os.WriteFile(f.Path(), []byte("IRIS\x02garbage-garbage-garbage-garbage"), 0600))

	_, err := f.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestFileRemovedWhenCleared(t *testing.T) {
	f := newTestFile(t, "master")
	ctx := context.Background()
	require.NoError(t, f.SaveAccessToken(ctx, "a"))
	require.NoError(t, core.ClearTokens(ctx, f))

	_, err := os.Stat(f.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestNewFileRequiresKey(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "t.enc"), nil)
	assert.ErrorIs(t, err, ErrNoMasterKey)
}

func TestRedisKeysAndTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client, "app:", WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, s.SaveAccessToken(ctx, "a"))
	got, err := mr.Get("app:access")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	assert.Equal(t, time.Hour, mr.TTL("app:access"))

	mr.FastForward(2 * time.Hour)
	access, err := s.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)
}

func TestRedisUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedis(client, "")
	mr.Close()

	_, err := s.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestDefaultFilePath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("USERPROFILE", `C:\Users\tester`)
	assert.Contains(t, DefaultFilePath(), ".carelink")
}
