package memory

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/samirrijal/souq/internal/core/ports"
)

var errMiss = errors.New("cache miss")

// Store implements ports.KeyValueStore in process memory. Values do not
// survive a restart.
type Store struct {
	items *gocache.Cache
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{items: gocache.New(gocache.NoExpiration, 0)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, ports.ErrKeyNotFound
	}
	return clone(v.([]byte)), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.items.Set(key, clone(value), gocache.NoExpiration)
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

// Cache implements ports.CacheService with per-entry TTLs.
type Cache struct {
	items *gocache.Cache
}

// NewCache creates a Cache that sweeps expired entries every cleanup interval.
func NewCache(cleanup time.Duration) *Cache {
	return &Cache{items: gocache.New(time.Minute, cleanup)}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, errMiss
	}
	return v.([]byte), nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.items.Set(key, clone(value), time.Duration(ttlSeconds)*time.Second)
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.items.Delete(key)
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
