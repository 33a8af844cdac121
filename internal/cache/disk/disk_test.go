package disk

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imgcache/internal/cache"
)

const testKey = "3f786850e387550fdab836ed7e6dc881de23001b.jpg"

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(osfs.New(dir), "cache"), dir
}

func TestStorePutAndOpen(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	entry, err := store.Put(ctx, testKey, bytes.NewReader([]byte("payload")), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.SizeBytes)
	assert.Equal(t, "image/jpeg", entry.ContentType)

	result, err := store.Open(ctx, testKey)
	require.NoError(t, err)
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestStoreOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, testKey, bytes.NewReader([]byte("first")), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, testKey, bytes.NewReader([]byte("second!")), "")
	require.NoError(t, err)

	entry, err := store.Stat(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.SizeBytes)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not leak into the listing")
}

func TestStoreStatMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Stat(context.Background(), testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	_, err = store.Open(context.Background(), testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, testKey[:2], testKey), 0o755))

	_, err := store.Stat(context.Background(), testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreRemove(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, testKey, bytes.NewReader([]byte("data")), "")
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, testKey))
	require.NoError(t, store.Remove(ctx, testKey))

	_, err = store.Stat(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	store, _ := newTestStore(t)
	for _, key := range []string{"", "ab", "../etc/passwd", ".hidden", `a\b\c`} {
		_, err := store.Put(context.Background(), key, bytes.NewReader(nil), "")
		assert.Error(t, err, "key %q", key)
	}
}

func TestStoreLocation(t *testing.T) {
	store := New(osfs.New(t.TempDir()), "/images/cache/")
	assert.Equal(t, "/images/cache/3f/"+testKey, store.Location(testKey))
}

func TestTrimRemovesOnlyExpiredFiles(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()
	const freshKey = "aa786850e387550fdab836ed7e6dc881de23001b.png"

	_, err := store.Put(ctx, testKey, bytes.NewReader([]byte("old")), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, freshKey, bytes.NewReader([]byte("new")), "")
	require.NoError(t, err)

	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, testKey[:2], testKey), old, old))

	c, err := cache.New(cache.Static(store), cache.Options{MaxDays: 7})
	require.NoError(t, err)

	removed, err := c.Trim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Stat(ctx, testKey)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	_, err = store.Stat(ctx, freshKey)
	assert.NoError(t, err)
}

func TestOpenFromRegistry(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := cache.Open(Key, cache.Options{
		MaxDays:  30,
		Settings: cache.NewSettings(map[string]string{"Path": dir}),
	})
	require.NoError(t, err)
	assert.Equal(t, "/cache/3f/"+testKey, c.Backend().Location(testKey))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenFromRegistryRequiresPath(t *testing.T) {
	_, err := cache.Open(Key, cache.Options{MaxDays: 30})
	assert.Error(t, err)
}

func TestEnvironmentOverridesPrefix(t *testing.T) {
	t.Setenv("IMGCACHE_DISK_PREFIX", "static/processed")
	c, err := cache.Open(Key, cache.Options{
		Settings: cache.NewSettings(map[string]string{"path": t.TempDir(), "prefix": "cache"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "static/processed", c.Setting(SettingPrefix))
	assert.Equal(t, "/static/processed/3f/"+testKey, c.Backend().Location(testKey))
}
