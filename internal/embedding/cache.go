package embedding

import (
	"container/list"
	"context"
	"sync"
)

// lru is a fixed-capacity least-recently-used map. A non-positive capacity stores nothing.
type lru[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[K]*list.Element
}

type lruEntry[K comparable, V any] struct {
	key K
	val V
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	return &lru[K, V]{capacity: capacity, order: list.New(), items: make(map[K]*list.Element)}
}

func (c *lru[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).val, true
}

func (c *lru[K, V]) put(key K, val V) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[K, V]).val = val
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, val: val})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*lruEntry[K, V]).key)
	}
}

func (c *lru[K, V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CacheStats counts lookups served by a CachedEmbedder.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// CachedEmbedder memoizes successful embeddings by text. Callers get their own copy of each
// vector, so indexes that normalize in place cannot corrupt the cache.
type CachedEmbedder struct {
	Embedder
	cache *lru[string, []float32]

	mu           sync.Mutex
	hits, misses int64
}

// NewCachedEmbedder wraps inner. A non-positive capacity disables caching.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: inner, cache: newLRU[string, []float32](capacity)}
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	v, ok := c.cache.get(text)
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

func (c *CachedEmbedder) store(text string, v []float32) {
	c.cache.put(text, append([]float32(nil), v...))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(text, v)
	return v, nil
}

// EmbedBatch answers cached texts directly and sends only the misses to the wrapped
// embedder, in one batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var misses []string
	for i, text := range texts {
		if v, ok := c.lookup(text); ok {
			out[i] = v
			continue
		}
		if _, seen := pending[text]; !seen {
			misses = append(misses, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(misses) == 0 {
		return out, nil
	}
	vecs, err := c.Embedder.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, text := range misses {
		c.store(text, vecs[j])
		for n, i := range pending[text] {
			if n == 0 {
				out[i] = vecs[j]
			} else {
				out[i] = append([]float32(nil), vecs[j]...)
			}
		}
	}
	return out, nil
}

// Stats reports cache hits and misses since creation.
func (c *CachedEmbedder) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: c.cache.len()}
}
