// Package headerinject implements the header-injection worker: a per-host
// cache of provider headers and an http.RoundTripper that merges them into
// outgoing manifest and segment requests.
package headerinject

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

const (
	// DefaultTTL applies when a message carries no usable TTL.
	DefaultTTL = 14400 * time.Second
	// MinTTL is the floor for any entry's lifetime.
	MinTTL = 30 * time.Second
)

// Cache maps request hosts to the headers their media requests need.
// Entries are replaced whole, never mutated, and expire lazily on read.
type Cache struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, types.ProxyHeaderSet]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCache creates a cache holding at most size hosts.
func NewCache(size int, defaultTTL time.Duration) (*Cache, error) {
	if size <= 0 {
		size = 512
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	entries, err := lru.New[string, types.ProxyHeaderSet](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries:    entries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// Set stores headers for the host of forURL. A ttl of zero or less uses the
// default; anything shorter than MinTTL is raised to it.
func (c *Cache) Set(forURL string, headers map[string]string, ttl time.Duration) (types.ProxyHeaderSet, bool) {
	host := urlutil.Host(forURL)
	if host == "" {
		return types.ProxyHeaderSet{}, false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}

	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := types.ProxyHeaderSet{Host: host, Headers: copied, ExpiresAt: c.now().Add(ttl)}
	c.entries.Add(host, entry)
	return entry, true
}

// Get returns the live entry for host. Expired entries are removed.
func (c *Cache) Get(host string) (types.ProxyHeaderSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(host)
	if !ok {
		return types.ProxyHeaderSet{}, false
	}
	if entry.Expired(c.now()) {
		c.entries.Remove(host)
		return types.ProxyHeaderSet{}, false
	}
	return entry, true
}

// Len returns the number of stored hosts, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}
