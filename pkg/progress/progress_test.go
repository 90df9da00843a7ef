package progress

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/retry"
)

func TestRecordAverages(t *testing.T) {
	rec := NewRecord("ds-1", 0, 400, time.Now())
	assert.Zero(t, rec.AvgProcessingSeconds())

	rec.TotalProcessed = 200
	rec.ProcessingSeconds = 50
	rec.DownstreamSeconds = 10

	assert.InDelta(t, 0.25, rec.AvgProcessingSeconds(), 1e-9)
	assert.InDelta(t, 0.05, rec.AvgDownstreamSeconds(), 1e-9)
	assert.False(t, rec.Done())

	rec.TotalProcessed = 400
	assert.True(t, rec.Done())
	assert.False(t, rec.Completed())
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now()
	rec := NewRecord("b", 1, 10, now)
	rec.CompletedAt = &now
	require.NoError(t, store.Upsert(ctx, rec))

	rec.TotalProcessed = 99
	*rec.CompletedAt = now.Add(time.Hour)

	stored, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, stored.TotalProcessed)
	assert.True(t, stored.CompletedAt.Equal(now))

	require.NoError(t, store.Upsert(ctx, NewRecord("a", 0, 1, now)))
	require.NoError(t, store.Upsert(ctx, NewRecord("c", 2, 1, now)))
	require.NoError(t, store.Upsert(ctx, NewRecord("a", 0, 5, now)))

	ids, err := store.ListUnitsOrdered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 3, store.Len())
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    Range
		wantErr bool
	}{
		{in: "1-131", want: Range{1, 131}},
		{in: " 397 - 656 ", want: Range{397, 656}},
		{in: "7", want: Range{7, 7}},
		{in: "0-3", wantErr: true},
		{in: "5-2", wantErr: true},
		{in: "3-x", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRange(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func seedFiles(t *testing.T, store *MemoryStore, names []string, skip map[string]bool) {
	t.Helper()
	for _, name := range names {
		if skip[name] {
			continue
		}
		require.NoError(t, store.UpsertFile(context.Background(), &FileProgress{
			FileName:         name,
			LineReached:      120,
			EndOfFileReached: true,
			TotalFailed:      7,
		}))
	}
}

func TestResetFiles(t *testing.T) {
	ctx := context.Background()
	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("links-%02d.txt", i+1)
	}

	store := NewMemoryStore()
	seedFiles(t, store, names, map[string]bool{"links-04.txt": true})
	tl := logger.NewTestLogger()

	report, err := ResetFiles(ctx, store, names, Range{From: 3, To: 5}, tl)
	require.NoError(t, err)
	assert.Equal(t, ResetReport{Examined: 3, Reset: 2, Missing: 1}, report)

	for i, name := range names {
		fp, err := store.GetFile(ctx, name)
		require.NoError(t, err)
		pos := i + 1
		switch {
		case name == "links-04.txt":
			assert.Nil(t, fp, "absent records must stay absent")
		case pos >= 3 && pos <= 5:
			assert.Zero(t, fp.LineReached, name)
			assert.False(t, fp.EndOfFileReached, name)
			assert.Zero(t, fp.TotalFailed, name)
		default:
			assert.Equal(t, int64(120), fp.LineReached, name)
			assert.True(t, fp.EndOfFileReached, name)
			assert.Equal(t, int64(7), fp.TotalFailed, name)
		}
	}

	again, err := ResetFiles(ctx, store, names, Range{From: 3, To: 5}, tl)
	require.NoError(t, err)
	assert.Equal(t, report, again)
	assert.True(t, tl.HasMessage("file progress reset"))
}

func TestResetFilesBounds(t *testing.T) {
	ctx := context.Background()
	names := []string{"a", "b", "c"}
	store := NewMemoryStore()
	seedFiles(t, store, names, nil)

	_, err := ResetFiles(ctx, store, names, Range{From: 0, To: 2}, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidRange)

	report, err := ResetFiles(ctx, store, names, Range{From: 2, To: 50}, nil)
	require.NoError(t, err)
	assert.Equal(t, ResetReport{Examined: 2, Reset: 2}, report)
}

func TestResetFileRanges(t *testing.T) {
	ctx := context.Background()
	names := []string{"a", "b", "c", "d", "e", "f"}
	store := NewMemoryStore()
	seedFiles(t, store, names, map[string]bool{"f": true})

	report, err := ResetFileRanges(ctx, store, names, []Range{{1, 2}, {5, 6}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ResetReport{Examined: 4, Reset: 3, Missing: 1}, report)

	fp, _ := store.GetFile(ctx, "c")
	assert.True(t, fp.EndOfFileReached)
}

// flakyStore drops the first write of each kind with a connection reset.
type flakyStore struct {
	*MemoryStore
	upserts     int
	fileUpserts int
}

func (f *flakyStore) Upsert(ctx context.Context, rec *Record) error {
	f.upserts++
	if f.upserts == 1 {
		return errs.StoreUnavailable("upsert progress "+rec.UnitID, syscall.ECONNRESET)
	}
	return f.MemoryStore.Upsert(ctx, rec)
}

func (f *flakyStore) UpsertFile(ctx context.Context, fp *FileProgress) error {
	f.fileUpserts++
	if f.fileUpserts == 1 {
		return errs.StoreUnavailable("upsert file progress "+fp.FileName, syscall.ECONNRESET)
	}
	return f.MemoryStore.UpsertFile(ctx, fp)
}

func storeRetrier(attempts int) *retry.Retrier {
	return retry.NewRetrier(retry.Config{MaxAttempts: attempts, Backoff: &retry.ConstantBackoff{Delay: time.Millisecond}})
}

func TestRetryingSurvivesTransientStoreFailure(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	store := NewRetrying(inner, inner, storeRetrier(3))

	require.NoError(t, store.Upsert(ctx, NewRecord("ds-1", 0, 10, time.Now())))
	require.NoError(t, store.UpsertFile(ctx, &FileProgress{FileName: "links-01.txt", LineReached: 4}))
	assert.Equal(t, 2, inner.upserts)
	assert.Equal(t, 2, inner.fileUpserts)

	rec, err := store.Get(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.TotalItems)

	fp, err := store.GetFile(ctx, "links-01.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), fp.LineReached)

	ids, err := store.ListUnitsOrdered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ds-1"}, ids)
}

func TestRetryingGivesUpAsStoreUnavailable(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	store := NewRetrying(inner, inner, storeRetrier(1))

	err := store.Upsert(context.Background(), NewRecord("ds-1", 0, 10, time.Now()))
	require.Error(t, err)
	assert.True(t, errs.IsStoreUnavailable(err))
}
