package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/veloxapp/authcore/pkg/metrics"
)

type memoryEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func (e *memoryEntry[K, V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Memory is a bounded in-memory LRU cache with lazy TTL eviction. All
// operations are serialized through a single mutex; entries are small and
// contention is dominated by the network anyway.
type Memory[K comparable, V any] struct {
	mu     sync.Mutex
	policy Policy
	ll     *list.List
	items  map[K]*list.Element
	now    func() time.Time
}

// NewMemory builds a memory cache governed by policy.
func NewMemory[K comparable, V any](policy Policy) *Memory[K, V] {
	if policy.MaxSize <= 0 {
		policy.MaxSize = PolicyDefault.MaxSize
	}
	if policy.TTL <= 0 {
		policy.TTL = PolicyDefault.TTL
	}
	return &Memory[K, V]{
		policy: policy,
		ll:     list.New(),
		items:  make(map[K]*list.Element),
		now:    time.Now,
	}
}

// Get returns the live value for key. An expired entry is evicted on read and
// reported as a miss.
func (m *Memory[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		metrics.CacheOps.WithLabelValues("memory", "miss").Inc()
		return zero, false
	}

	entry := el.Value.(*memoryEntry[K, V])
	if entry.expired(m.now()) {
		m.removeElement(el)
		metrics.CacheOps.WithLabelValues("memory", "miss").Inc()
		return zero, false
	}

	m.ll.MoveToFront(el)
	metrics.CacheOps.WithLabelValues("memory", "hit").Inc()
	return entry.value, true
}

// Put inserts or replaces the value for key, refreshing its recency and TTL.
// The TTL defaults to the policy TTL when ttl <= 0. Inserting past capacity
// evicts the least-recently-used entry first, so size never exceeds MaxSize.
func (m *Memory[K, V]) Put(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.policy.TTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := m.now().Add(ttl)
	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry[K, V])
		entry.value = value
		entry.expiresAt = expiresAt
		m.ll.MoveToFront(el)
		return
	}

	if m.ll.Len() >= m.policy.MaxSize {
		if oldest := m.ll.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}

	el := m.ll.PushFront(&memoryEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	m.items[key] = el
}

// Contains reports whether key holds a live value, evicting it when expired.
func (m *Memory[K, V]) Contains(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return false
	}
	if el.Value.(*memoryEntry[K, V]).expired(m.now()) {
		m.removeElement(el)
		return false
	}
	return true
}

// Remove deletes the entry for key.
func (m *Memory[K, V]) Remove(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
}

// Clear drops every entry.
func (m *Memory[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ll.Init()
	m.items = make(map[K]*list.Element)
}

// EvictExpired removes all expired entries and returns how many were dropped.
func (m *Memory[K, V]) EvictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for el := m.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memoryEntry[K, V]).expired(now) {
			m.removeElement(el)
			evicted++
		}
		el = prev
	}
	return evicted
}

// Len returns the current number of entries, live or not.
func (m *Memory[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory[K, V]) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry[K, V])
	m.ll.Remove(el)
	delete(m.items, entry.key)
}
