// Package cache memoises expensive per-resource derived data.
//
// Entries are keyed by a fingerprint that maps to a pure function of the
// resource, so an entry is valid forever once written and there is no
// eviction. Concurrent writers of the same fingerprint produce the same
// artifact; the last write wins.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached artifact.
type Entry struct {
	Fingerprint string    `json:"fingerprint" bson:"_id"`
	Artifact    []byte    `json:"artifact" bson:"artifact"`
	ResourceURL string    `json:"resource_url" bson:"resource_url"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Store persists Entries. Failures must wrap errors.ErrStoreUnavailable.
type Store interface {
	// Get returns (nil, nil) when no entry exists.
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	// Exists checks for an entry without decoding its artifact.
	Exists(ctx context.Context, fingerprint string) (bool, error)
	// Put upserts by fingerprint.
	Put(ctx context.Context, e *Entry) error
}

// DeriveFunc computes the artifact for a cache miss.
type DeriveFunc func(ctx context.Context) ([]byte, error)

// Fingerprint returns the hex MD5 of a resource URL.
func Fingerprint(resourceURL string) string {
	sum := md5.Sum([]byte(resourceURL))
	return hex.EncodeToString(sum[:])
}

// Stats counts cache outcomes since construction.
type Stats struct {
	Hits    int64
	Misses  int64
	Derived int64
}

// Cache fronts a Store and collapses concurrent misses on one fingerprint
// into a single derivation.
type Cache struct {
	store Store
	group singleflight.Group
	now   func() time.Time

	hits    atomic.Int64
	misses  atomic.Int64
	derived atomic.Int64
}

// New wraps store.
func New(store Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// Store returns the backing store.
func (c *Cache) Store() Store {
	return c.store
}

// GetOrDerive returns the artifact for fingerprint, deriving and storing it
// on a miss. hit reports whether the artifact came from the store. A derive
// error is returned as is and nothing is written.
func (c *Cache) GetOrDerive(ctx context.Context, fingerprint, resourceURL string, derive DeriveFunc) (artifact []byte, hit bool, err error) {
	exists, err := c.store.Exists(ctx, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("cache exists %s: %w", fingerprint, err)
	}
	if exists {
		entry, err := c.store.Get(ctx, fingerprint)
		if err != nil {
			return nil, false, fmt.Errorf("cache get %s: %w", fingerprint, err)
		}
		if entry != nil {
			c.hits.Add(1)
			return entry.Artifact, true, nil
		}
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		data, err := derive(ctx)
		if err != nil {
			return nil, err
		}
		c.derived.Add(1)
		entry := &Entry{
			Fingerprint: fingerprint,
			Artifact:    data,
			ResourceURL: resourceURL,
			CreatedAt:   c.now().UTC(),
		}
		if err := c.store.Put(ctx, entry); err != nil {
			return nil, fmt.Errorf("cache put %s: %w", fingerprint, err)
		}
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Derived: c.derived.Load(),
	}
}
