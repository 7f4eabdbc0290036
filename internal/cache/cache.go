// Package cache keeps recently fetched result sets in memory so repeated
// reads skip the document store. Entries live in a bounded LRU; pagination
// cursors sit in a side map keyed the same way and leave with their entry.
package cache

import (
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/rx3lixir/mapchat/internal/metrics"
)

// DefaultCapacity is the number of result sets kept before eviction
const DefaultCapacity = 50

// Kind tags what an entry's Value holds
type Kind string

// Entry is a cached result set
type Entry struct {
	Kind  Kind
	Value any
}

type Store struct {
	mu          sync.Mutex
	entries     *simplelru.LRU[string, Entry]
	cursors     map[string]string
	generations map[string]uint64
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		cursors:     make(map[string]string),
		generations: make(map[string]uint64),
	}
	// NewLRU only fails on a non-positive size
	s.entries, _ = simplelru.NewLRU[string, Entry](capacity, s.onEvict)
	return s
}

// onEvict runs under mu for both capacity evictions and explicit removals
func (s *Store) onEvict(key string, _ Entry) {
	delete(s.cursors, key)
}

// Set inserts or replaces an entry, evicting the least recently used one
// when the store is full.
func (s *Store) Set(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, e)
}

func (s *Store) set(key string, e Entry) {
	if s.entries.Add(key, e) {
		metrics.CacheEvictions.Inc()
	}
}

// Get returns the entry and marks it most recently used
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	e, ok := s.entries.Get(key)
	s.mu.Unlock()

	record(key, ok)
	return e, ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(key)
	delete(s.cursors, key)
}

func (s *Store) SetCursor(key, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = cursor
}

// Cursor returns the pagination cursor stored for key, if any
func (s *Store) Cursor(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[key]
	return c, ok
}

func (s *Store) DeleteCursor(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, key)
}

// Invalidate drops cached data for a namespace. With an id only the key
// "namespace:id" goes; without one every key equal to the namespace or
// starting with "namespace:" is removed. Either way the namespace
// generation moves forward.
func (s *Store) Invalidate(namespace, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generations[namespace]++

	if id != "" {
		key := namespace + ":" + id
		s.entries.Remove(key)
		delete(s.cursors, key)
		return
	}

	prefix := namespace + ":"
	for _, key := range s.entries.Keys() {
		if key == namespace || strings.HasPrefix(key, prefix) {
			s.entries.Remove(key)
		}
	}
	for key := range s.cursors {
		if key == namespace || strings.HasPrefix(key, prefix) {
			delete(s.cursors, key)
		}
	}
}

// Generation returns a token that changes whenever the namespace or any
// parent namespace ("messages" for "messages:r1") is invalidated.
func (s *Store) Generation(namespace string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation(namespace)
}

func (s *Store) generation(namespace string) uint64 {
	var gen uint64
	ns := namespace
	for {
		gen += s.generations[ns]
		i := strings.LastIndexByte(ns, ':')
		if i < 0 {
			return gen
		}
		ns = ns[:i]
	}
}

// SetIfCurrent stores the entry (and cursor, when not empty) only if the
// namespace has not been invalidated since gen was read. It reports
// whether the write happened.
func (s *Store) SetIfCurrent(namespace string, gen uint64, key string, e Entry, cursor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation(namespace) != gen {
		return false
	}
	s.set(key, e)
	if cursor != "" {
		s.cursors[key] = cursor
	} else {
		delete(s.cursors, key)
	}
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Purge empties the store
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
	clear(s.cursors)
}

// Lookup reads an entry of the given kind. An entry with a different kind
// or payload type is evicted and reported as a miss.
func Lookup[T any](s *Store, key string, kind Kind) (T, bool) {
	var zero T

	s.mu.Lock()
	e, ok := s.entries.Get(key)
	if ok {
		if v, typed := e.Value.(T); typed && e.Kind == kind {
			s.mu.Unlock()
			record(key, true)
			return v, true
		}
		s.entries.Remove(key)
	}
	s.mu.Unlock()

	record(key, false)
	return zero, false
}

// Key builds a deterministic key from a namespace and the parameters that
// shape a result. url.Values.Encode sorts by name, so parameter order never
// matters.
func Key(namespace string, params url.Values) string {
	if len(params) == 0 {
		return namespace
	}
	return namespace + ":" + params.Encode()
}

func record(key string, hit bool) {
	kind := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		kind = key[:i]
	}
	if hit {
		metrics.CacheHits.WithLabelValues(kind).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(kind).Inc()
	}
}
