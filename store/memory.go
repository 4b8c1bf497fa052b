// Package store provides the built-in Store implementations: an in-memory
// store with an optional LRU quota, a SQLite-backed store, and a bbolt
// store. All of them key entries by (id, vary) and treat the advisory store
// lifetime as an expiry.
package store

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/joinava/cache"
)

type memoryVariant struct {
	entry   *cache.Entry
	expires time.Time // zero means no advisory limit
	elem    *list.Element
}

type memoryKey struct {
	id      string
	varyKey string
}

// Memory is an in-memory Store. Expired variants are purged lazily on read.
// With a non-zero entry quota, the least recently used variants are evicted
// on write.
type Memory struct {
	mu         sync.Mutex
	byID       map[string]map[string]*memoryVariant
	lru        *list.List // of memoryKey, front is most recent
	maxEntries int
	count      int
}

// NewMemory creates a memory store holding at most maxEntries variants.
// Zero means unlimited.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		byID:       make(map[string]map[string]*memoryVariant),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

func (m *Memory) Get(id string, params cache.Params) ([]*cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	variants := m.byID[id]
	now := time.Now()
	entries := make([]*cache.Entry, 0, len(variants))
	for varyKey, v := range variants {
		if !v.expires.IsZero() && now.After(v.expires) {
			m.remove(memoryKey{id, varyKey})
			continue
		}
		if v.entry.Vary.Matches(params) {
			m.lru.MoveToFront(v.elem)
			entries = append(entries, v.entry)
		}
	}
	return entries, nil
}

func (m *Memory) GetMany(reqs []cache.IDParams) ([][]*cache.Entry, error) {
	results := make([][]*cache.Entry, len(reqs))
	for i, req := range reqs {
		entries, err := m.Get(req.ID, req.Params)
		if err != nil {
			return nil, err
		}
		results[i] = entries
	}
	return results, nil
}

func (m *Memory) Store(inputs []cache.StoreInput) error {
	inputs = cache.DedupeLatest(inputs)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, in := range inputs {
		key := memoryKey{in.Entry.ID, in.Entry.Vary.Key()}
		var expires time.Time
		if !math.IsInf(in.MaxStoreFor, 1) {
			expires = now.Add(time.Duration(in.MaxStoreFor * float64(time.Second)))
		}
		variants := m.byID[key.id]
		if variants == nil {
			variants = make(map[string]*memoryVariant)
			m.byID[key.id] = variants
		}
		if v, ok := variants[key.varyKey]; ok {
			v.entry = in.Entry
			v.expires = expires
			m.lru.MoveToFront(v.elem)
		} else {
			variants[key.varyKey] = &memoryVariant{
				entry:   in.Entry,
				expires: expires,
				elem:    m.lru.PushFront(key),
			}
			m.count++
		}
	}
	for m.maxEntries > 0 && m.count > m.maxEntries {
		back := m.lru.Back()
		if back == nil {
			break
		}
		m.remove(back.Value.(memoryKey))
	}
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for varyKey := range m.byID[id] {
		m.remove(memoryKey{id, varyKey})
	}
	return nil
}

func (m *Memory) Close(time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]map[string]*memoryVariant)
	m.lru.Init()
	m.count = 0
	return nil
}

// remove drops one variant; the caller holds the mutex.
func (m *Memory) remove(key memoryKey) {
	variants := m.byID[key.id]
	v, ok := variants[key.varyKey]
	if !ok {
		return
	}
	m.lru.Remove(v.elem)
	delete(variants, key.varyKey)
	if len(variants) == 0 {
		delete(m.byID, key.id)
	}
	m.count--
}
