package cache

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrCacheFull = errors.New("cache: full")
)

// LoadFunc is called, without the cache mutex held, to fetch a resource which is not
// resident.
type LoadFunc[T any] func(key uint64) (T, error)

// EvictFunc is called, with the cache mutex held, when the last reference to a resource
// is released or the cache is closed.
type EvictFunc[T any] func(val T) error

type entry[T any] struct {
	val  T
	refs int
}

// Cache is a reference counted cache of resources keyed by uint64. Every successful Get
// must be matched by exactly one Release.
type Cache[T any] struct {
	mutex    sync.Mutex
	loaded   *sync.Cond
	entries  map[uint64]*entry[T]
	loading  map[uint64]struct{}
	capacity int // 0: unbounded
	count    int // resident plus loading
	load     LoadFunc[T]
	evict    EvictFunc[T]
}

func New[T any](capacity int, load LoadFunc[T], evict EvictFunc[T]) *Cache[T] {
	c := &Cache[T]{
		entries:  map[uint64]*entry[T]{},
		loading:  map[uint64]struct{}{},
		capacity: capacity,
		load:     load,
		evict:    evict,
	}
	c.loaded = sync.NewCond(&c.mutex)
	return c
}

func (c *Cache[T]) Get(key uint64) (T, error) {
	c.mutex.Lock()
	for {
		if _, ok := c.loading[key]; ok {
			c.loaded.Wait()
			continue
		}

		if e, ok := c.entries[key]; ok {
			e.refs += 1
			c.mutex.Unlock()
			return e.val, nil
		}

		if c.capacity > 0 && c.count >= c.capacity {
			c.mutex.Unlock()
			var zero T
			return zero, ErrCacheFull
		}
		break
	}

	c.count += 1
	c.loading[key] = struct{}{}
	c.mutex.Unlock()

	val, err := c.load(key)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.loading, key)
	c.loaded.Broadcast()
	if err != nil {
		c.count -= 1
		var zero T
		return zero, err
	}

	c.entries[key] = &entry[T]{
		val:  val,
		refs: 1,
	}
	return val, nil
}

func (c *Cache[T]) Release(key uint64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries[key]
	if !ok {
		panic(fmt.Sprintf("cache: release of key not in cache: %d", key))
	}

	e.refs -= 1
	if e.refs > 0 {
		return nil
	}

	delete(c.entries, key)
	c.count -= 1
	return c.evict(e.val)
}

// Close evicts every resident resource, regardless of references.
func (c *Cache[T]) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var err error
	for key, e := range c.entries {
		delete(c.entries, key)
		c.count -= 1
		if evictErr := c.evict(e.val); evictErr != nil && err == nil {
			err = evictErr
		}
	}
	return err
}

func (c *Cache[T]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.entries)
}
