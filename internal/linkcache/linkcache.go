// Package linkcache keeps a bounded per-destination set of recently posted
// links. It is a fast, non-authoritative pre-check and a backward-compatible
// snapshot for older state readers; the history table stays the source of
// truth for dedup.
package linkcache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DefaultCap is the per-destination link limit; the most recent links win.
const DefaultCap = 1000

// Cache is a capped most-recent link set keyed by destination.
type Cache struct {
	mu    sync.Mutex
	cap   int
	links map[string][]string // per destination, oldest first
	index map[string]map[string]struct{}
}

// New creates a Cache with the given per-destination capacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Cache{
		cap:   capacity,
		links: make(map[string][]string),
		index: make(map[string]map[string]struct{}),
	}
}

// Contains reports whether the link was recently posted to the destination.
func (c *Cache) Contains(destKey, link string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[destKey][link]
	return ok
}

// Add records a link for a destination, evicting the oldest once over capacity.
func (c *Cache) Add(destKey, link string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.index[destKey]
	if !ok {
		set = make(map[string]struct{})
		c.index[destKey] = set
	}
	if _, dup := set[link]; dup {
		return
	}
	set[link] = struct{}{}
	c.links[destKey] = append(c.links[destKey], link)

	for len(c.links[destKey]) > c.cap {
		oldest := c.links[destKey][0]
		c.links[destKey] = c.links[destKey][1:]
		delete(set, oldest)
	}
}

// Len returns the number of cached links for a destination.
func (c *Cache) Len(destKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links[destKey])
}

// Save writes a JSON snapshot in the legacy posted-links layout.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	snapshot := make(map[string][]string, len(c.links))
	for key, links := range c.links {
		cp := make([]string, len(links))
		copy(cp, links)
		snapshot[key] = cp
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal link cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write link cache: %w", err)
	}
	return nil
}

// Load replaces the cache contents from a legacy snapshot file. A missing
// file leaves the cache empty.
func (c *Cache) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read link cache: %w", err)
	}

	var snapshot map[string][]string
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse link cache: %w", err)
	}

	c.mu.Lock()
	c.links = make(map[string][]string)
	c.index = make(map[string]map[string]struct{})
	c.mu.Unlock()

	for key, links := range snapshot {
		start := 0
		if len(links) > c.cap {
			start = len(links) - c.cap
		}
		for _, link := range links[start:] {
			c.Add(key, link)
		}
	}
	return nil
}
