// Package disk stores processed images on a local filesystem through go-billy.
// Artifacts live at <root>/<key[0:2]>/<key>; writes go to a temp file in the
// same directory and are renamed into place, so a reader either sees the old
// artifact or the complete new one. The file's modification time is the
// entry's creation time.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/any-hub/imgcache/internal/cache"
)

// Key is the registry key of this backend.
const Key = "disk"

const (
	// SettingPath 是缓存根目录（必填）。
	SettingPath = "path"
	// SettingPrefix 是对外虚拟路径前缀，默认 "cache"。
	SettingPrefix = "prefix"

	defaultPrefix = "cache"
	tempPrefix    = ".tmp-"
)

func init() {
	cache.MustRegister(cache.BackendFactory{
		Key:         Key,
		Description: "local filesystem, <path>/<key[0:2]>/<key>",
		SettingKeys: []string{SettingPath, SettingPrefix},
		Augmenter:   cache.EnvAugmenter("IMGCACHE_DISK", SettingPath, SettingPrefix),
		New:         newFromSettings,
	})
}

func newFromSettings(settings cache.Settings) (cache.Backend, error) {
	root := settings.Get(SettingPath)
	if root == "" {
		return nil, errors.New("disk backend: setting \"path\" required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache path: %w", err)
	}
	return New(osfs.New(abs), settings.GetDefault(SettingPrefix, defaultPrefix)), nil
}

// Store is a billy-backed cache backend.
type Store struct {
	fs     billy.Filesystem
	prefix string
}

// New wraps fsys; prefix is the virtual path segment used by Location.
func New(fsys billy.Filesystem, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{fs: fsys, prefix: prefix}
}

func (s *Store) Stat(ctx context.Context, key string) (cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, err
	}
	rel, err := entryPath(key)
	if err != nil {
		return cache.Entry{}, err
	}
	info, err := s.fs.Stat(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cache.Entry{}, cache.ErrNotFound
		}
		return cache.Entry{}, err
	}
	if info.IsDir() {
		return cache.Entry{}, cache.ErrNotFound
	}
	return entryOf(key, info), nil
}

func (s *Store) Open(ctx context.Context, key string) (*cache.ReadResult, error) {
	entry, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	rel, _ := entryPath(key)
	f, err := s.fs.Open(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return &cache.ReadResult{Entry: entry, Reader: f}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ string) (*cache.Entry, error) {
	rel, err := entryPath(key)
	if err != nil {
		return nil, err
	}
	dir := path.Dir(rel)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tempFile, err := s.fs.TempFile(dir, tempPrefix)
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	_, err = cache.CopyContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tempName)
		return nil, err
	}

	if err := s.fs.Rename(tempName, rel); err != nil {
		_ = s.fs.Remove(tempName)
		return nil, err
	}

	info, err := s.fs.Stat(rel)
	if err != nil {
		return nil, err
	}
	entry := entryOf(key, info)
	return &entry, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := entryPath(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(rel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]cache.Entry, error) {
	var entries []cache.Entry
	err := util.Walk(s.fs, "/", func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		entries = append(entries, entryOf(info.Name(), info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Location(key string) string {
	rel, err := entryPath(key)
	if err != nil {
		return ""
	}
	return "/" + s.prefix + "/" + rel
}

// entryPath 将 key 映射为 <key[0:2]>/<key>，拒绝包含路径分隔符的 key。
func entryPath(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return key[:2] + "/" + key, nil
}

func entryOf(key string, info fs.FileInfo) cache.Entry {
	return cache.Entry{
		Key:         key,
		CreatedAt:   info.ModTime().UTC(),
		SizeBytes:   info.Size(),
		ContentType: mime.TypeByExtension(path.Ext(key)),
	}
}
