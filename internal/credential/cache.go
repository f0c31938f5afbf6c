package credential

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of Manager instances the Cache
// retains before evicting the least recently used (spec §4.2).
const DefaultCacheSize = 100

// Cache is the Credential Cache (CC, spec §4.2): a bounded, concurrency-safe
// LRU of Managers keyed by refresh token, so repeated requests carrying the
// same tenant credential reuse one Manager (and its cached access token)
// instead of starting a fresh refresh per request.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, *Manager]
	newFn func(refreshToken, profileArn, region, credsFile string) (*Manager, error)
}

// NewCache constructs a Cache of the given capacity (DefaultCacheSize if
// size <= 0).
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Manager](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		lru: c,
		newFn: func(refreshToken, profileArn, region, credsFile string) (*Manager, error) {
			return New(Options{
				RefreshToken: refreshToken,
				ProfileArn:   profileArn,
				Region:       region,
				CredsFile:    credsFile,
			})
		},
	}, nil
}

// GetOrCreate returns the cached Manager for refreshToken, constructing one
// on first use. Concurrent calls for the same refreshToken are serialized so
// exactly one Manager is built per key.
func (c *Cache) GetOrCreate(refreshToken, profileArn, region, credsFile string) (*Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.lru.Get(refreshToken); ok {
		return m, nil
	}
	m, err := c.newFn(refreshToken, profileArn, region, credsFile)
	if err != nil {
		return nil, err
	}
	c.lru.Add(refreshToken, m)
	return m, nil
}

// Len returns the current number of cached managers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
