package cache

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

type fakeItem struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// fakeBackend 是测试用的内存后端，可注入错误与写入阻塞点。
type fakeBackend struct {
	mu    sync.Mutex
	items map[string]fakeItem
	now   func() time.Time

	statErr error
	putErr  error
	// putStarted/putRelease 非空时，Put 在写入前通知并等待放行。
	putStarted chan struct{}
	putRelease chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{items: map[string]fakeItem{}, now: time.Now}
}

func (f *fakeBackend) seed(key string, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = fakeItem{data: []byte("seed"), createdAt: createdAt}
}

func (f *fakeBackend) Stat(_ context.Context, key string) (Entry, error) {
	if f.statErr != nil {
		return Entry{}, f.statErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Key: key, CreatedAt: it.createdAt, SizeBytes: int64(len(it.data)), ContentType: it.contentType}, nil
}

func (f *fakeBackend) Open(ctx context.Context, key string) (*ReadResult, error) {
	entry, err := f.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	data := f.items[key].data
	f.mu.Unlock()
	return &ReadResult{Entry: entry, Reader: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeBackend) Put(_ context.Context, key string, body io.Reader, contentType string) (*Entry, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if f.putStarted != nil {
		f.putStarted <- struct{}{}
		<-f.putRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = fakeItem{data: data, contentType: contentType, createdAt: f.now().UTC()}
	return &Entry{Key: key, CreatedAt: f.items[key].createdAt, SizeBytes: int64(len(data)), ContentType: contentType}, nil
}

func (f *fakeBackend) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

func (f *fakeBackend) List(context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, 0, len(f.items))
	for key, it := range f.items {
		out = append(out, Entry{Key: key, CreatedAt: it.createdAt, SizeBytes: int64(len(it.data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeBackend) Location(key string) string {
	return "/cache/" + key
}

// staticProber 总是返回固定信号，并记录调用次数。
type staticProber struct {
	mu     sync.Mutex
	signal string
	calls  int
}

func (p *staticProber) Probe(context.Context, string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.signal
}

func (p *staticProber) setSignal(signal string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signal = signal
}
