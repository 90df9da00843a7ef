// Package mongostore keeps progress records and cached artifacts in MongoDB
// and pages source records out of a record collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reprocessor/pkg/cache"
	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/progress"
)

// Collection names used by the stores.
const (
	ProgressCollection     = "reprocess_progress"
	FileProgressCollection = "reprocess_file_progress"
	CacheCollection        = "derived_cache"
)

// Connect opens a client and verifies the deployment answers.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errs.StoreUnavailable("ping mongo", err)
	}
	return client, nil
}

var (
	_ progress.Store     = (*ProgressStore)(nil)
	_ progress.FileStore = (*ProgressStore)(nil)
	_ cache.Store        = (*CacheStore)(nil)
)

// ProgressStore keeps progress.Record and progress.FileProgress documents
// keyed by _id.
type ProgressStore struct {
	units *mongo.Collection
	files *mongo.Collection
}

// NewProgressStore uses the progress collections of db.
func NewProgressStore(db *mongo.Database) *ProgressStore {
	return &ProgressStore{
		units: db.Collection(ProgressCollection),
		files: db.Collection(FileProgressCollection),
	}
}

// Get returns the record for unitID, or (nil, nil).
func (s *ProgressStore) Get(ctx context.Context, unitID string) (*progress.Record, error) {
	var rec progress.Record
	found, err := findByID(ctx, s.units, unitID, &rec)
	if err != nil || !found {
		return nil, wrapStore("get progress "+unitID, err)
	}
	return &rec, nil
}

// Upsert replaces the document keyed by rec.UnitID.
func (s *ProgressStore) Upsert(ctx context.Context, rec *progress.Record) error {
	return wrapStore("upsert progress "+rec.UnitID, replaceByID(ctx, s.units, rec.UnitID, rec))
}

// ListUnitsOrdered returns every recorded unit id in lexical order.
func (s *ProgressStore) ListUnitsOrdered(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.units.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrapStore("list progress", err)
	}

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrapStore("list progress", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// GetFile returns the progress of a links file, or (nil, nil).
func (s *ProgressStore) GetFile(ctx context.Context, name string) (*progress.FileProgress, error) {
	var fp progress.FileProgress
	found, err := findByID(ctx, s.files, name, &fp)
	if err != nil || !found {
		return nil, wrapStore("get file progress "+name, err)
	}
	return &fp, nil
}

// UpsertFile replaces the progress of fp.FileName.
func (s *ProgressStore) UpsertFile(ctx context.Context, fp *progress.FileProgress) error {
	return wrapStore("upsert file progress "+fp.FileName, replaceByID(ctx, s.files, fp.FileName, fp))
}

// CacheStore keeps cache.Entry documents keyed by fingerprint.
type CacheStore struct {
	coll *mongo.Collection
}

// NewCacheStore uses the cache collection of db.
func NewCacheStore(db *mongo.Database) *CacheStore {
	return &CacheStore{coll: db.Collection(CacheCollection)}
}

// Get returns the entry for fingerprint, or (nil, nil).
func (s *CacheStore) Get(ctx context.Context, fingerprint string) (*cache.Entry, error) {
	var e cache.Entry
	found, err := findByID(ctx, s.coll, fingerprint, &e)
	if err != nil || !found {
		return nil, wrapStore("get cache entry "+fingerprint, err)
	}
	return &e, nil
}

// Exists fetches the _id only, so the artifact is never transferred.
func (s *CacheStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})
	err := s.coll.FindOne(ctx, idFilter(fingerprint), opts).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, wrapStore("check cache entry "+fingerprint, err)
	}
	return true, nil
}

// Put upserts e by fingerprint.
func (s *CacheStore) Put(ctx context.Context, e *cache.Entry) error {
	return wrapStore("put cache entry "+e.Fingerprint, replaceByID(ctx, s.coll, e.Fingerprint, e))
}

func idFilter(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

func findByID(ctx context.Context, coll *mongo.Collection, id string, out any) (bool, error) {
	err := coll.FindOne(ctx, idFilter(id)).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func replaceByID(ctx context.Context, coll *mongo.Collection, id string, doc any) error {
	_, err := coll.ReplaceOne(ctx, idFilter(id), doc, options.Replace().SetUpsert(true))
	return err
}

func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.StoreUnavailable(op, classify(err))
}
