package embeddings

import (
	"bytes"
	"container/list"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"os"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"
)

// cache is an in-memory LRU cache with TTL eviction, keyed on a hash of
// (model, text). It can snapshot to and reload from disk so that restarting
// the indexer does not forfeit a warm cache.
type cache struct {
	mu        sync.RWMutex
	entries   map[string]*cacheEntry
	lru       *list.List
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key       string
	value     []float64
	element   *list.Element
	createdAt time.Time
}

// persistedEntry is the gob-encoded on-disk form of one cache entry.
type persistedEntry struct {
	Key       string
	Value     []float64
	CreatedAt time.Time
}

func newCache(maxSize int, ttl time.Duration) *cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &cache{entries: make(map[string]*cacheEntry), lru: list.New(), maxSize: maxSize, ttl: ttl}
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "|" + text))
	return fmt.Sprintf("%x", h)
}

func (c *cache) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Since(entry.createdAt) > c.ttl {
		c.remove(entry)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(entry.element)
	c.hits++
	out := make([]float64, len(entry.value))
	copy(out, entry.value)
	return out, true
}

func (c *cache) set(key string, value []float64) {
	if len(value) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = append([]float64(nil), value...)
		entry.createdAt = time.Now()
		c.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{key: key, value: append([]float64(nil), value...), createdAt: time.Now()}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry

	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*cacheEntry))
		c.evictions++
	}
}

func (c *cache) remove(entry *cacheEntry) {
	delete(c.entries, entry.key)
	c.lru.Remove(entry.element)
}

// stats is a point-in-time snapshot of cache counters.
type stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

func (c *cache) Stats() stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return stats{Size: c.lru.Len(), MaxSize: c.maxSize, Hits: c.hits, Misses: c.misses, Evictions: c.evictions, HitRate: hitRate}
}

// saveToDisk gob-encodes every non-expired entry and writes it atomically.
func (c *cache) saveToDisk(path string) error {
	c.mu.RLock()
	persisted := make([]persistedEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		if time.Since(entry.createdAt) > c.ttl {
			continue
		}
		persisted = append(persisted, persistedEntry{Key: entry.key, Value: entry.value, CreatedAt: entry.createdAt})
	}
	c.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(persisted); err != nil {
		return fmt.Errorf("embeddings: encode cache snapshot: %w", err)
	}
	return natomic.WriteFile(path, bytes.NewReader(buf.Bytes()))
}

// loadFromDisk restores a cache previously written by saveToDisk. A missing
// or corrupt file is not an error: the cache simply starts cold.
func (c *cache) loadFromDisk(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var persisted []persistedEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&persisted); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range persisted {
		if time.Since(p.CreatedAt) > c.ttl {
			continue
		}
		entry := &cacheEntry{key: p.Key, value: p.Value, createdAt: p.CreatedAt}
		entry.element = c.lru.PushFront(entry)
		c.entries[p.Key] = entry
	}
}
