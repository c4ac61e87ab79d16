package offlinegw

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store is the registry of named caches. Every named cache maps request keys
// to responses; Keys enumerates them in write order.
type Store interface {
	Open(ctx context.Context, name string) error
	Names(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, name string) (bool, error)

	Match(ctx context.Context, name, key string) (Response, bool, error)
	Put(ctx context.Context, name, key string, resp Response) error
	Delete(ctx context.Context, name, key string) (bool, error)
	Keys(ctx context.Context, name string) ([]string, error)

	Close() error
}

// OpenStore builds the backend selected by cfg.Storage.Backend.
func OpenStore(cfg Config) (Store, error) {
	switch cfg.Storage.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendLevelDB:
		s, err := OpenLevelDBStore(cfg.Storage.LevelDB.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendValkey:
		v := cfg.Storage.Valkey
		s, err := OpenValkeyStore(ValkeyConfig{
			Address:   v.Address,
			Password:  v.Password,
			DB:        v.DB,
			KeyPrefix: v.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// ---- memory store ----

type memCache struct {
	entries map[string]Response
	order   []string
}

func (c *memCache) remove(key string) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// MemoryStore keeps every named cache in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	caches map[string]*memCache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{caches: map[string]*memCache{}}
}

func (s *MemoryStore) openLocked(name string) *memCache {
	c, ok := s.caches[name]
	if !ok {
		c = &memCache{entries: map[string]Response{}}
		s.caches[name] = c
	}
	return c
}

func (s *MemoryStore) Open(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(name)
	return nil
}

func (s *MemoryStore) Names(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.caches))
	for name := range s.caches {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) DeleteCache(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	return true, nil
}

func (s *MemoryStore) Match(_ context.Context, name, key string) (Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return Response{}, false, nil
	}
	resp, ok := c.entries[key]
	if !ok {
		return Response{}, false, nil
	}
	return resp.Clone(), true, nil
}

func (s *MemoryStore) Put(_ context.Context, name, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.openLocked(name)
	c.remove(key)
	c.entries[key] = resp.Clone()
	c.order = append(c.order, key)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return false, nil
	}
	return c.remove(key), nil
}

func (s *MemoryStore) Keys(_ context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), c.order...), nil
}

func (s *MemoryStore) Close() error { return nil }
