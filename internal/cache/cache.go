// Package cache holds the process-wide caches: editor sessions, rendered
// previews, syntax stylesheets and static asset hashes.
package cache

import "sync"

type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]V),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.items[key]
	return val, ok
}

// GetOrCreate returns the value stored under key, creating it with create
// when missing. The boolean reports whether the value already existed.
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) (V, bool) {
	if val, ok := c.Get(key); ok {
		return val, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if val, ok := c.items[key]; ok {
		return val, true
	}
	val := create()
	c.items[key] = val
	return val, false
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
}

// Range calls fn for every entry until fn returns false. fn runs with the
// cache read locked and must not modify it.
func (c *Cache[K, V]) Range(fn func(K, V) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.items {
		if !fn(k, v) {
			return
		}
	}
}

// DeleteFunc removes every entry for which del returns true and reports
// how many were removed. del runs with the cache locked.
func (c *Cache[K, V]) DeleteFunc(del func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, v := range c.items {
		if del(k, v) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// RenderKey identifies one rendering of a markdown body.
type RenderKey struct {
	ContentHash string
	Renderer    string
	SyntaxTheme string
}

// RenderedContent is a cached preview. Title is read from the document's
// front matter when the renderer understands it.
type RenderedContent struct {
	HTML  []byte
	Title string
}

// MaxRenderedEntries bounds the preview cache. Reaching it drops every
// entry; previews are cheap to rebuild.
const MaxRenderedEntries = 512

var renderedMarkdownCache = NewCache[RenderKey, *RenderedContent]()

func GetRenderedMarkdown(key RenderKey) (*RenderedContent, bool) {
	return renderedMarkdownCache.Get(key)
}

func SetRenderedMarkdown(key RenderKey, html []byte, title string) {
	if renderedMarkdownCache.Len() >= MaxRenderedEntries {
		renderedMarkdownCache.Clear()
	}
	renderedMarkdownCache.Set(key, &RenderedContent{
		HTML:  html,
		Title: title,
	})
}

func ClearRenderedMarkdownCache() {
	renderedMarkdownCache.Clear()
}
