package server

import (
	"fmt"
	"sort"
	"sync"

	"gridclient/cacheconfig"
	"gridclient/protocol"
)

// cache holds one cache's entries as serialized objects. Keys are compared by their
// serialized form: an INTEGER 1 and a LONG 1 are different keys.
type cache struct {
	cfg *cacheconfig.Configuration

	mu      sync.RWMutex
	entries map[string][]byte // serialized key -> serialized value
}

func newCache(cfg *cacheconfig.Configuration) *cache {
	return &cache{cfg: cfg, entries: make(map[string][]byte)}
}

func (c *cache) get(key []byte) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[string(key)]
	return v, ok
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// update runs fn with the cache write-locked, making compound operations such as
// replace-if-equals atomic.
func (c *cache) update(fn func(entries map[string][]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.entries)
}

// store maps cache ids to caches.
type store struct {
	mu     sync.RWMutex
	caches map[int32]*cache
}

func newStore() *store {
	return &store{caches: make(map[int32]*cache)}
}

func (s *store) lookup(id int32) (*cache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[id]
	if !ok {
		return nil, &statusError{status: protocol.StatusCacheDoesNotExist, msg: fmt.Sprintf("cache does not exist [cacheId=%d]", id)}
	}
	return c, nil
}

// create adds a cache for cfg. With mustNotExist an existing cache is an error,
// otherwise the existing cache is kept as is.
func (s *store) create(cfg *cacheconfig.Configuration, mustNotExist bool) error {
	name := cfg.CacheName()
	if name == "" {
		return &statusError{status: protocol.StatusFailed, msg: "cache name must not be empty"}
	}
	id := protocol.CacheID(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[id]; ok {
		if mustNotExist {
			return &statusError{status: protocol.StatusCacheExists, msg: fmt.Sprintf("cache already exists [name=%s]", name)}
		}
		return nil
	}
	s.caches[id] = newCache(cfg)
	return nil
}

func (s *store) destroy(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[id]; !ok {
		return &statusError{status: protocol.StatusCacheDoesNotExist, msg: fmt.Sprintf("cache does not exist [cacheId=%d]", id)}
	}
	delete(s.caches, id)
	return nil
}

func (s *store) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.caches))
	for _, c := range s.caches {
		out = append(out, c.cfg.CacheName())
	}
	sort.Strings(out)
	return out
}
