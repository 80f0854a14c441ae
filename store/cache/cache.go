// Package cache wraps a ContentStorage with a read-through TTL cache. Writes
// made through the wrapper always evict the written path, whatever their
// outcome, so a conflict is never answered from a stale entry twice.
package cache

import (
	"context"
	"time"

	"github.com/breez/data-store/store"
	"github.com/jellydator/ttlcache/v3"
)

type CachedContentStorage struct {
	store.ContentStorage
	reads *ttlcache.Cache[string, store.ReadResult]
}

func NewCachedContentStorage(storage store.ContentStorage, ttl time.Duration) *CachedContentStorage {
	reads := ttlcache.New[string, store.ReadResult](
		ttlcache.WithTTL[string, store.ReadResult](ttl),
		ttlcache.WithDisableTouchOnHit[string, store.ReadResult](),
	)
	go reads.Start()
	return &CachedContentStorage{ContentStorage: storage, reads: reads}
}

func (c *CachedContentStorage) Stop() {
	c.reads.Stop()
}

func (c *CachedContentStorage) Read(ctx context.Context, path string) (store.ReadResult, error) {
	key := store.NormalizePath(path)
	if item := c.reads.Get(key); item != nil {
		return item.Value(), nil
	}
	res, err := c.ContentStorage.Read(ctx, path)
	if err != nil {
		return res, err
	}
	c.reads.Set(key, res, ttlcache.DefaultTTL)
	return res, nil
}

func (c *CachedContentStorage) Create(ctx context.Context, path string, content []byte, message string) (string, error) {
	defer c.reads.Delete(store.NormalizePath(path))
	return c.ContentStorage.Create(ctx, path, content, message)
}

func (c *CachedContentStorage) Update(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	defer c.reads.Delete(store.NormalizePath(path))
	return c.ContentStorage.Update(ctx, path, content, message, revision)
}

func (c *CachedContentStorage) Delete(ctx context.Context, path, message, revision string) error {
	defer c.reads.Delete(store.NormalizePath(path))
	return c.ContentStorage.Delete(ctx, path, message, revision)
}
