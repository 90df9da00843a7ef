package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprocessor/internal/engine"
	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/progress"
	"reprocessor/pkg/source"
)

// fakeRunner completes every unit unless behaviour says otherwise.
type fakeRunner struct {
	mu        sync.Mutex
	ran       []string
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
	behaviour func(ctx context.Context, unit engine.WorkUnit) (engine.UnitReport, error)
}

func (r *fakeRunner) Run(ctx context.Context, unit engine.WorkUnit) (engine.UnitReport, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxActive.Load()
		if n <= m || r.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	r.mu.Lock()
	r.ran = append(r.ran, unit.ID)
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.behaviour != nil {
		return r.behaviour(ctx, unit)
	}
	return engine.UnitReport{Unit: unit, Status: engine.StatusCompleted, Items: 10}, nil
}

func (r *fakeRunner) ranUnits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func makeUnits(n int) []engine.WorkUnit {
	units := make([]engine.WorkUnit, n)
	for i := range units {
		units[i] = engine.WorkUnit{ID: fmt.Sprintf("ds-%02d", i), OrderedIndex: i, Kind: engine.KindDataset}
	}
	return units
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(&fakeRunner{}, Options{Workers: 0, RangeEnd: -1})
	assert.Error(t, err)

	_, err = New(&fakeRunner{}, Options{Workers: 2, RangeStart: 5, RangeEnd: 3})
	assert.ErrorIs(t, err, errs.ErrInvalidRange)

	_, err = New(nil, Options{Workers: 1, RangeEnd: -1})
	assert.Error(t, err)
}

func TestRunCompletesAllUnitsWithBoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	exec, err := New(runner, Options{Workers: 3, RangeEnd: -1})
	require.NoError(t, err)

	summary, err := exec.Run(context.Background(), makeUnits(12))
	require.NoError(t, err)

	assert.True(t, summary.OK())
	assert.Equal(t, 12, summary.Attempted)
	assert.Equal(t, 12, summary.Completed)
	assert.Equal(t, int64(120), summary.Items)
	assert.Len(t, runner.ranUnits(), 12)
	assert.LessOrEqual(t, runner.maxActive.Load(), int32(3))

	for i, r := range summary.Reports {
		assert.Equal(t, i, r.Unit.OrderedIndex)
	}
}

func TestRangeShardsAreDisjointAndCoverAll(t *testing.T) {
	units := makeUnits(10)
	seen := map[string]int{}

	for _, shard := range [][2]int{{0, 3}, {4, 6}, {7, -1}} {
		runner := &fakeRunner{}
		exec, err := New(runner, Options{Workers: 2, RangeStart: shard[0], RangeEnd: shard[1]})
		require.NoError(t, err)

		summary, err := exec.Run(context.Background(), units)
		require.NoError(t, err)
		assert.True(t, summary.OK())
		for _, id := range runner.ranUnits() {
			seen[id]++
		}
	}

	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestSelect(t *testing.T) {
	units := []engine.WorkUnit{{ID: "c", OrderedIndex: 2}, {ID: "a", OrderedIndex: 0}, {ID: "b", OrderedIndex: 1}}

	got := Select(units, 1, -1)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	assert.Len(t, Select(units, 0, 0), 1)
	assert.Empty(t, Select(units, 5, -1))
}

func TestFailureIsolation(t *testing.T) {
	runner := &fakeRunner{behaviour: func(ctx context.Context, unit engine.WorkUnit) (engine.UnitReport, error) {
		switch unit.ID {
		case "ds-01":
			err := errors.New("processor rejected page")
			return engine.UnitReport{Unit: unit, Status: engine.StatusFailed, Err: err}, err
		case "ds-02":
			panic("boom")
		}
		return engine.UnitReport{Unit: unit, Status: engine.StatusCompleted}, nil
	}}
	log := logger.NewTestLogger()
	exec, err := New(runner, Options{Workers: 2, RangeEnd: -1, Logger: log})
	require.NoError(t, err)

	summary, err := exec.Run(context.Background(), makeUnits(5))
	require.NoError(t, err)

	assert.False(t, summary.OK())
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, runner.ranUnits(), 5)
	assert.True(t, log.HasMessage("unit panicked"))
	assert.True(t, log.HasMessage("campaign finished"))
}

func TestStoreUnavailableStopsCampaign(t *testing.T) {
	runner := &fakeRunner{behaviour: func(ctx context.Context, unit engine.WorkUnit) (engine.UnitReport, error) {
		if unit.ID == "ds-00" {
			err := errs.StoreUnavailable("upsert", errors.New("connection refused"))
			return engine.UnitReport{Unit: unit, Status: engine.StatusFailed, Err: err}, err
		}
		select {
		case <-ctx.Done():
			return engine.UnitReport{Unit: unit, Status: engine.StatusStopped, Err: ctx.Err()}, ctx.Err()
		case <-time.After(2 * time.Second):
			return engine.UnitReport{Unit: unit, Status: engine.StatusCompleted}, nil
		}
	}}
	exec, err := New(runner, Options{Workers: 1, RangeEnd: -1})
	require.NoError(t, err)

	start := time.Now()
	summary, err := exec.Run(context.Background(), makeUnits(20))
	require.Error(t, err)
	assert.True(t, errs.IsStoreUnavailable(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 20, summary.Attempted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 19, summary.Stopped)
	assert.Len(t, summary.Reports, 20)
	assert.False(t, summary.OK())
}

func TestCancelledContextReportsStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	exec, err := New(runner, Options{Workers: 2, RangeEnd: -1})
	require.NoError(t, err)

	summary, err := exec.Run(ctx, makeUnits(6))
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Stopped)
	assert.Empty(t, runner.ranUnits())
	assert.False(t, summary.OK())
}

type fakeLocker struct {
	held     map[string]bool
	released atomic.Int32
}

func (l *fakeLocker) TryLock(id string) (func() error, bool, error) {
	if l.held[id] {
		return nil, false, nil
	}
	return func() error { l.released.Add(1); return nil }, true, nil
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[string]int
}

func (o *countingObserver) UnitStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) UnitFinished(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[status]++
}

func TestLockedUnitsAreSkipped(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{"ds-01": true}}
	obs := &countingObserver{finished: map[string]int{}}
	runner := &fakeRunner{}
	exec, err := New(runner, Options{Workers: 2, RangeEnd: -1, Locker: locker, Observer: obs})
	require.NoError(t, err)

	summary, err := exec.Run(context.Background(), makeUnits(3))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Locked)
	assert.Equal(t, 2, summary.Completed)
	assert.NotContains(t, runner.ranUnits(), "ds-01")
	assert.Equal(t, int32(2), locker.released.Load())
	assert.Equal(t, 2, obs.started)
	assert.Equal(t, 2, obs.finished["completed"])
	assert.False(t, summary.OK())
}

type pagedSource struct{ sizes map[string]int }

func (s pagedSource) Count(ctx context.Context, unitID string) (int64, error) {
	return int64(s.sizes[unitID]), nil
}

func (s pagedSource) FetchPage(ctx context.Context, unitID string, skip, limit int) ([]source.Item, error) {
	var items []source.Item
	for i := skip; i < s.sizes[unitID] && len(items) < limit; i++ {
		items = append(items, source.Item{ID: fmt.Sprintf("%s/%d", unitID, i)})
	}
	return items, nil
}

func TestRunWithEngine(t *testing.T) {
	ctx := context.Background()
	store := progress.NewMemoryStore()
	sizes := map[string]int{}
	units := makeUnits(6)
	for i, u := range units {
		sizes[u.ID] = 50 * (i + 1)
	}

	var processed atomic.Int64
	eng, err := engine.New(engine.Config{
		Progress: store,
		Source:   pagedSource{sizes: sizes},
		Processor: engine.ProcessorFunc(func(ctx context.Context, unit engine.WorkUnit, items []source.Item) (engine.Outcome, error) {
			processed.Add(int64(len(items)))
			return engine.Outcome{Processed: len(items)}, nil
		}),
		PageSize: 40,
	})
	require.NoError(t, err)

	exec, err := New(eng, Options{Workers: 3, RangeEnd: -1})
	require.NoError(t, err)

	summary, err := exec.Run(ctx, units)
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, int64(1050), summary.Items)
	assert.Equal(t, int64(1050), processed.Load())

	summary, err = exec.Run(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Skipped)
	assert.True(t, summary.OK())
	assert.Equal(t, int64(1050), processed.Load())
}
