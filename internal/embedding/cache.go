package embedding

import (
	"container/list"
	"context"
	"sync"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text.
type EmbeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	// Get also mutates the list (MoveToFront), so reads need the same
	// exclusive lock as writes.
	mu sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// CachedProvider wraps a Provider with an LRU cache keyed by text, avoiding
// repeat provider calls when entities share text across jobs.
type CachedProvider struct {
	provider Provider
	cache    *EmbeddingCache
}

// NewCachedProvider wraps provider with a cache of the given capacity.
func NewCachedProvider(provider Provider, capacity int) *CachedProvider {
	if capacity <= 0 {
		capacity = 10000
	}
	return &CachedProvider{provider: provider, cache: NewEmbeddingCache(capacity)}
}

// Embed returns the cached embedding for text, calling the provider on a miss.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.cache.Get(text); ok {
		return v, nil
	}
	emb, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(text, emb)
	return emb, nil
}

// EmbedBatch embeds each text, serving cached entries without provider calls.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the wrapped provider's dimension.
func (p *CachedProvider) Dimensions() int { return p.provider.Dimensions() }

// Model returns the wrapped provider's model identifier.
func (p *CachedProvider) Model() string { return p.provider.Model() }

// Close closes the wrapped provider.
func (p *CachedProvider) Close() error { return p.provider.Close() }
