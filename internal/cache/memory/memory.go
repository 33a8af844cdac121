// Package memory provides an in-process cache backend. Entries live in a map
// guarded by a RWMutex; it suits tests and single-node deployments where the
// cache may be lost on restart.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/any-hub/imgcache/internal/cache"
)

// Key is the registry key of this backend.
const Key = "memory"

func init() {
	cache.MustRegister(cache.BackendFactory{
		Key:         Key,
		Description: "in-process map, lost on restart",
		New: func(cache.Settings) (cache.Backend, error) {
			return New(), nil
		},
	})
}

type item struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// Store keeps artifacts in memory.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

// New returns an empty Store using time.Now as its clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock 使用自定义时钟构造，测试中用于模拟条目年龄。
func NewWithClock(now func() time.Time) *Store {
	return &Store{items: make(map[string]item), now: now}
}

func (s *Store) Stat(ctx context.Context, key string) (cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return cache.Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[key]
	if !ok {
		return cache.Entry{}, cache.ErrNotFound
	}
	return entryOf(key, it), nil
}

func (s *Store) Open(ctx context.Context, key string) (*cache.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	return &cache.ReadResult{
		Entry:  entryOf(key, it),
		Reader: io.NopCloser(bytes.NewReader(it.data)),
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (*cache.Entry, error) {
	var buf bytes.Buffer
	if _, err := cache.CopyContext(ctx, &buf, body); err != nil {
		return nil, err
	}
	it := item{data: buf.Bytes(), contentType: contentType, createdAt: s.now().UTC()}

	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()

	entry := entryOf(key, it)
	return &entry, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) List(ctx context.Context) ([]cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]cache.Entry, 0, len(s.items))
	for key, it := range s.items {
		entries = append(entries, entryOf(key, it))
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) Location(key string) string {
	return "memory://" + key
}

func entryOf(key string, it item) cache.Entry {
	return cache.Entry{
		Key:         key,
		CreatedAt:   it.createdAt,
		SizeBytes:   int64(len(it.data)),
		ContentType: it.contentType,
	}
}
