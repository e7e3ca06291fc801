// Package cache provides the versioned key entry cache used by the key management system.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	kmsDomain "github.com/allisson/kms/internal/kms/domain"
)

// Loader is the subset of the KeyStore the cache reads through on a miss.
type Loader interface {
	GetByNameVersion(ctx context.Context, name string, version uint) (*kmsDomain.KeyEntry, error)
	GetLatest(ctx context.Context, name string) (*kmsDomain.KeyEntry, error)
}

// KeyCache caches key entries by (name, version) plus a latest-version pointer per name.
//
// Every key in the underlying go-cache carries a per-name generation. Invalidate bumps
// the generation, which makes all older keys of that name unreachable and stops loads
// that started before the invalidation from publishing stale entries. Unreachable keys
// are reclaimed by the go-cache janitor.
type KeyCache struct {
	loader  Loader
	entries *gocache.Cache
	group   singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a cache whose entries live for ttl. A non-positive ttl keeps entries until
// they are invalidated.
func New(loader Loader, ttl time.Duration) *KeyCache {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &KeyCache{
		loader:      loader,
		entries:     gocache.New(expiration, cleanup),
		generations: make(map[string]uint64),
	}
}

func (c *KeyCache) generation(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[name]
}

func entryKey(name string, gen uint64, version uint) string {
	return fmt.Sprintf("%s@%d@%d", name, gen, version)
}

func latestKey(name string, gen uint64) string {
	return fmt.Sprintf("%s@%d@latest", name, gen)
}

// Get returns a copy of the cached entry, loading it through the Loader on a miss.
// Version zero resolves the latest version. Concurrent misses for the same key share
// one load.
func (c *KeyCache) Get(ctx context.Context, name string, version uint) (*kmsDomain.KeyEntry, error) {
	gen := c.generation(name)

	if entry, ok := c.lookup(name, gen, version); ok {
		return entry.Clone(), nil
	}

	flightKey := entryKey(name, gen, version)
	if version == 0 {
		flightKey = latestKey(name, gen)
	}

	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		var (
			entry *kmsDomain.KeyEntry
			err   error
		)
		if version == 0 {
			entry, err = c.loader.GetLatest(ctx, name)
		} else {
			entry, err = c.loader.GetByNameVersion(ctx, name, version)
		}
		if err != nil {
			return nil, err
		}
		c.publish(name, gen, entry, version == 0)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*kmsDomain.KeyEntry).Clone(), nil
}

func (c *KeyCache) lookup(name string, gen uint64, version uint) (*kmsDomain.KeyEntry, bool) {
	if version == 0 {
		latest, ok := c.entries.Get(latestKey(name, gen))
		if !ok {
			return nil, false
		}
		version = latest.(uint)
	}

	v, ok := c.entries.Get(entryKey(name, gen, version))
	if !ok {
		return nil, false
	}
	return v.(*kmsDomain.KeyEntry), true
}

// publish stores entry only if no invalidation happened since gen was read.
func (c *KeyCache) publish(name string, gen uint64, entry *kmsDomain.KeyEntry, isLatest bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[name] != gen {
		return
	}
	c.store(name, gen, entry, isLatest)
}

// store must be called with c.mu held.
func (c *KeyCache) store(name string, gen uint64, entry *kmsDomain.KeyEntry, isLatest bool) {
	c.entries.SetDefault(entryKey(name, gen, entry.Version), entry.Clone())
	if isLatest {
		c.entries.SetDefault(latestKey(name, gen), entry.Version)
	}
}

// Put stores a copy of entry. The latest pointer moves when none is cached or when
// version is higher than the cached latest version, so callers only Put versions they
// know to be the newest or older versions of a name whose latest is already cached.
func (c *KeyCache) Put(name string, version uint, entry *kmsDomain.KeyEntry) {
	if entry == nil {
		return
	}
	e := entry.Clone()
	e.Version = version

	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generations[name]
	current, ok := c.entries.Get(latestKey(name, gen))
	c.store(name, gen, e, !ok || version > current.(uint))
}

// Invalidate drops one version of name, or every version when version is zero. Both
// are implemented by retiring the current generation of name, so a single-version
// invalidation also evicts its siblings; they are reloaded on the next Get. Loads
// already in flight for name will not populate the cache.
func (c *KeyCache) Invalidate(name string, _ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[name]++
}
