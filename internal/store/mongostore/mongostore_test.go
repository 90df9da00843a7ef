package mongostore

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	errs "reprocessor/pkg/errors"
)

func TestRecordFilterAnchorsDatasetPrefix(t *testing.T) {
	filter := recordFilter("2048.1")
	require.Len(t, filter, 1)
	assert.Equal(t, "about", filter[0].Key)

	re := regexp.MustCompile(filter[0].Value.(primitive.Regex).Pattern)
	assert.True(t, re.MatchString("/2048.1/item_1"))
	assert.False(t, re.MatchString("/2048x1/item_1"), "dots must be literal")
	assert.False(t, re.MatchString("/12048.1/item_1"))
	assert.False(t, re.MatchString("/2048.10/item_1"))
}

func TestPageOptions(t *testing.T) {
	opts := pageOptions(400, 200)
	require.NotNil(t, opts.Skip)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(400), *opts.Skip)
	assert.Equal(t, int64(200), *opts.Limit)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, opts.Sort)
}

func TestItemFromRaw(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: oid},
		{Key: "about", Value: "/42/rec_7"},
		{Key: "title", Value: "Sunflowers"},
	})
	require.NoError(t, err)

	item, err := itemFromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "/42/rec_7", item.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(item.Payload, &payload))
	assert.Equal(t, "Sunflowers", payload["title"])
}

func TestItemFromRawFallsBackToID(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.D{{Key: "_id", Value: oid}})
	require.NoError(t, err)

	item, err := itemFromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), item.ID)
}

func TestClassifyLeavesOtherErrorsAlone(t *testing.T) {
	plain := errors.New("bad query")
	assert.Same(t, plain, classify(plain))
	assert.False(t, errs.IsTransient(classify(plain)))
}

func TestWrapStore(t *testing.T) {
	assert.NoError(t, wrapStore("op", nil))
	assert.True(t, errs.IsStoreUnavailable(wrapStore("op", errors.New("down"))))
	assert.False(t, errs.IsTransient(wrapStore("op", errors.New("down"))))

	netErr := mongo.CommandError{Code: 91, Message: "host unreachable", Labels: []string{"NetworkError"}}
	wrapped := wrapStore("upsert progress u", netErr)
	assert.True(t, errs.IsStoreUnavailable(wrapped))
	assert.True(t, errs.IsTransient(wrapped))
}
