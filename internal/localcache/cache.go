// Package localcache is a derived, rebuildable index over the on-disk
// DecSync tree, backed by bbolt. It speeds up the static read surface
// (GetStaticInfo, ListCollections) across large trees. The cache is never
// authoritative: the on-disk text format remains the source of truth, and
// every cached value can be recomputed from it, so a missing or stale cache
// entry is a performance concern, not a correctness one.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketStaticInfo  = []byte("static_info")
	bucketCollections = []byte("collections")
)

// Cache wraps a bbolt database file private to one (decsyncDir, syncType)
// scope. Callers conventionally place it alongside localDir.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the cache database at dbPath.
func Open(ctx context.Context, dbPath string) (*Cache, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open localcache db: %w", err)
	}

	c := &Cache{db: db}
	if err := c.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize localcache buckets: %w", err)
	}
	return c, nil
}

// Close closes the underlying database. It is safe to call more than once.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Cache) initBuckets() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketStaticInfo); err != nil {
			return fmt.Errorf("failed to create static_info bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketCollections); err != nil {
			return fmt.Errorf("failed to create collections bucket: %w", err)
		}
		return nil
	})
}

// StaticInfo returns the cached key/value map last computed for the info
// path of collectionKey (conventionally "<syncType>/<collection>"), and
// whether a cached entry was present at all.
func (c *Cache) StaticInfo(ctx context.Context, collectionKey string) (map[string]string, bool, error) {
	var info map[string]string
	found := false

	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketStaticInfo)
		if bucket == nil {
			return fmt.Errorf("static_info bucket not found")
		}

		data := bucket.Get([]byte(collectionKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached static info: %w", err)
	}
	return info, found, nil
}

// PutStaticInfo stores the current static info snapshot for collectionKey.
func (c *Cache) PutStaticInfo(ctx context.Context, collectionKey string, info map[string]string) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal static info: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketStaticInfo)
		if bucket == nil {
			return fmt.Errorf("static_info bucket not found")
		}
		if err := bucket.Put([]byte(collectionKey), data); err != nil {
			return fmt.Errorf("failed to put static info: %w", err)
		}
		return nil
	})
}

// InvalidateStaticInfo drops any cached entry for collectionKey, forcing the
// next GetStaticInfo call to recompute it from disk.
func (c *Cache) InvalidateStaticInfo(ctx context.Context, collectionKey string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketStaticInfo)
		if bucket == nil {
			return fmt.Errorf("static_info bucket not found")
		}
		return bucket.Delete([]byte(collectionKey))
	})
}

// Collections returns the cached list of collection names under syncType,
// and whether a cached entry was present.
func (c *Cache) Collections(ctx context.Context, syncType string) ([]string, bool, error) {
	var names []string
	found := false

	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCollections)
		if bucket == nil {
			return fmt.Errorf("collections bucket not found")
		}

		data := bucket.Get([]byte(syncType))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &names)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached collections: %w", err)
	}
	return names, found, nil
}

// PutCollections stores the current collection list for syncType.
func (c *Cache) PutCollections(ctx context.Context, syncType string, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal collections: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCollections)
		if bucket == nil {
			return fmt.Errorf("collections bucket not found")
		}
		if err := bucket.Put([]byte(syncType), data); err != nil {
			return fmt.Errorf("failed to put collections: %w", err)
		}
		return nil
	})
}

// InvalidateCollections drops the cached collection list for syncType.
func (c *Cache) InvalidateCollections(ctx context.Context, syncType string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCollections)
		if bucket == nil {
			return fmt.Errorf("collections bucket not found")
		}
		return bucket.Delete([]byte(syncType))
	})
}
