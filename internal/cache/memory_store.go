package cache

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// MemoryStore keeps entries in process memory. Tokens are independent keys of a sync.Map.
type MemoryStore struct {
	entries sync.Map // token -> memoryItem
	ttl     time.Duration

	manifestMu sync.Mutex
	manifest   map[string]string
}

type memoryItem struct {
	entry      Entry
	expiration int64
}

// NewMemoryStore creates an in-memory store. A zero ttl keeps entries for the life of the process.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		manifest: make(map[string]string),
	}
}

// Get retrieves an entry. Expired entries are removed lazily.
func (m *MemoryStore) Get(ctx context.Context, token string) (Entry, bool, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return Entry{}, false, err
	}
	v, ok := m.entries.Load(token)
	if !ok {
		return Entry{}, false, nil
	}
	item := v.(memoryItem)
	if item.expiration > 0 && time.Now().UnixNano() > item.expiration {
		m.entries.CompareAndDelete(token, v)
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

// Put adds or replaces an entry.
func (m *MemoryStore) Put(ctx context.Context, entry Entry) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	item := memoryItem{entry: entry}
	if m.ttl > 0 {
		item.expiration = time.Now().Add(m.ttl).UnixNano()
	}
	m.entries.Store(entry.Token, item)
	return nil
}

func (m *MemoryStore) LoadManifest(ctx context.Context) (map[string]string, error) {
	m.manifestMu.Lock()
	defer m.manifestMu.Unlock()
	return maps.Clone(m.manifest), nil
}

func (m *MemoryStore) SaveManifest(ctx context.Context, versions map[string]string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	m.manifestMu.Lock()
	defer m.manifestMu.Unlock()
	m.manifest = maps.Clone(versions)
	return nil
}

// Clear drops every entry and the manifest.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.entries.Clear()
	m.manifestMu.Lock()
	m.manifest = make(map[string]string)
	m.manifestMu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
