package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reprocessor/pkg/cache"
	errs "reprocessor/pkg/errors"
)

var _ cache.Store = (*CacheStore)(nil)

var cacheColumns = []string{"fingerprint", "artifact", "resource_url", "created_at"}

// CacheStore is the derived data cache view of a Store.
type CacheStore struct {
	s *Store
}

// Cache returns the cache view of s.
func (s *Store) Cache() *CacheStore {
	return &CacheStore{s: s}
}

// Get returns the cached entry for fingerprint, or (nil, nil).
func (c *CacheStore) Get(ctx context.Context, fingerprint string) (*cache.Entry, error) {
	row, err := c.s.queryRow(ctx, c.s.sb.Select(cacheColumns...).From("derived_cache").Where("fingerprint = ?", fingerprint))
	if err != nil {
		return nil, err
	}

	var (
		e       cache.Entry
		created string
	)
	err = row.Scan(&e.Fingerprint, &e.Artifact, &e.ResourceURL, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable("get cache entry "+fingerprint, err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("cache entry %s: bad created_at: %w", fingerprint, err)
	}
	return &e, nil
}

// Exists checks the key column only.
func (c *CacheStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	row, err := c.s.queryRow(ctx, c.s.sb.Select("1").From("derived_cache").Where("fingerprint = ?", fingerprint))
	if err != nil {
		return false, err
	}

	var one int
	err = row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.StoreUnavailable("check cache entry "+fingerprint, err)
	}
	return true, nil
}

// Put upserts e by fingerprint.
func (c *CacheStore) Put(ctx context.Context, e *cache.Entry) error {
	q := upsert(c.s.sb, "derived_cache", "fingerprint", cacheColumns, []any{
		e.Fingerprint, e.Artifact, e.ResourceURL, formatTime(e.CreatedAt),
	})
	if err := c.s.execBuilt(ctx, q); err != nil {
		return errs.StoreUnavailable("put cache entry "+e.Fingerprint, err)
	}
	return nil
}
