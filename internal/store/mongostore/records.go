package mongostore

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/source"
)

// datasetIDField holds the dataset identifier in the datasets collection.
const datasetIDField = "datasetId"

var (
	_ source.Source     = (*RecordSource)(nil)
	_ source.UnitLister = (*RecordSource)(nil)
)

// RecordSource pages the records of a dataset. A record belongs to dataset
// d when its "about" starts with "/d/". Pages are ordered by _id.
type RecordSource struct {
	records  *mongo.Collection
	datasets *mongo.Collection
}

// NewRecordSource reads records and datasets from the named collections.
func NewRecordSource(db *mongo.Database, recordsCollection, datasetsCollection string) *RecordSource {
	return &RecordSource{
		records:  db.Collection(recordsCollection),
		datasets: db.Collection(datasetsCollection),
	}
}

// ListUnits returns every dataset id in lexical order.
func (s *RecordSource) ListUnits(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: datasetIDField, Value: 1}}).
		SetSort(bson.D{{Key: datasetIDField, Value: 1}})
	cur, err := s.datasets.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classify(err)
	}

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify(err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d[datasetIDField].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of records in the dataset.
func (s *RecordSource) Count(ctx context.Context, unitID string) (int64, error) {
	n, err := s.records.CountDocuments(ctx, recordFilter(unitID))
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// FetchPage returns up to limit records after skipping skip of them.
func (s *RecordSource) FetchPage(ctx context.Context, unitID string, skip, limit int) ([]source.Item, error) {
	cur, err := s.records.Find(ctx, recordFilter(unitID), pageOptions(skip, limit))
	if err != nil {
		return nil, classify(err)
	}
	defer cur.Close(ctx)

	items := make([]source.Item, 0, limit)
	for cur.Next(ctx) {
		item, err := itemFromRaw(cur.Current)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := cur.Err(); err != nil {
		return nil, classify(err)
	}
	return items, nil
}

func recordFilter(unitID string) bson.D {
	pattern := "^/" + regexp.QuoteMeta(unitID) + "/"
	return bson.D{{Key: "about", Value: primitive.Regex{Pattern: pattern}}}
}

func pageOptions(skip, limit int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
}

// itemFromRaw keeps the whole document as relaxed extended JSON.
func itemFromRaw(raw bson.Raw) (source.Item, error) {
	var head struct {
		ID    any    `bson:"_id"`
		About string `bson:"about"`
	}
	if err := bson.Unmarshal(raw, &head); err != nil {
		return source.Item{}, errs.New(errs.ErrorTypeParsing, 0, "decode record", err)
	}

	payload, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return source.Item{}, errs.New(errs.ErrorTypeParsing, 0, "encode record payload", err)
	}

	id := head.About
	if id == "" {
		id = idString(head.ID)
	}
	return source.Item{ID: id, Payload: payload}, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// classify marks network and timeout failures as transient so the retrying
// decorator picks them up.
func classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errs.Transient(err)
	}
	return err
}
