package engine

import (
	"context"
	"time"

	"reprocessor/pkg/progress"
)

// tracker abstracts the progress model the page loop checkpoints into.
type tracker interface {
	// settled reports whether the unit needs no work, fixing up a missing
	// completion mark on the way.
	settled(ctx context.Context, now time.Time) (bool, error)
	consumed() int64
	// advance applies one page and returns any count drift it corrected.
	advance(items, failed int, o Outcome, now time.Time) int64
	// finish marks exhaustion and returns any count drift it corrected.
	finish(now time.Time) int64
	save(ctx context.Context) error
	stats() map[string]interface{}
}

type recordTracker struct {
	rec   *progress.Record
	store progress.Store
}

func (t *recordTracker) settled(ctx context.Context, now time.Time) (bool, error) {
	if t.rec.Completed() {
		return true, nil
	}
	if !t.rec.Done() {
		return false, nil
	}
	t.rec.CompletedAt = &now
	return true, t.store.Upsert(ctx, t.rec)
}

func (t *recordTracker) consumed() int64 {
	return t.rec.TotalProcessed
}

func (t *recordTracker) advance(items, failed int, o Outcome, _ time.Time) int64 {
	t.rec.TotalProcessed += int64(items)
	t.rec.TotalFailed += int64(failed)
	t.rec.ProcessingSeconds += o.ProcessingSeconds
	t.rec.DownstreamSeconds += o.DownstreamSeconds

	if t.rec.TotalProcessed > t.rec.TotalItems {
		drift := t.rec.TotalProcessed - t.rec.TotalItems
		t.rec.TotalItems = t.rec.TotalProcessed
		return drift
	}
	return 0
}

func (t *recordTracker) finish(now time.Time) int64 {
	drift := t.rec.TotalProcessed - t.rec.TotalItems
	t.rec.TotalItems = t.rec.TotalProcessed
	t.rec.CompletedAt = &now
	return drift
}

func (t *recordTracker) save(ctx context.Context) error {
	return t.store.Upsert(ctx, t.rec)
}

func (t *recordTracker) stats() map[string]interface{} {
	return map[string]interface{}{
		"total_items":            t.rec.TotalItems,
		"total_failed":           t.rec.TotalFailed,
		"avg_processing_seconds": t.rec.AvgProcessingSeconds(),
		"avg_downstream_seconds": t.rec.AvgDownstreamSeconds(),
	}
}

type fileTracker struct {
	fp    *progress.FileProgress
	store progress.FileStore
}

func (t *fileTracker) settled(context.Context, time.Time) (bool, error) {
	return t.fp.EndOfFileReached, nil
}

func (t *fileTracker) consumed() int64 {
	return t.fp.LineReached
}

func (t *fileTracker) advance(items, failed int, _ Outcome, now time.Time) int64 {
	t.fp.LineReached += int64(items)
	t.fp.TotalFailed += int64(failed)
	t.fp.UpdatedAt = now
	return 0
}

func (t *fileTracker) finish(now time.Time) int64 {
	t.fp.EndOfFileReached = true
	t.fp.UpdatedAt = now
	return 0
}

func (t *fileTracker) save(ctx context.Context) error {
	return t.store.UpsertFile(ctx, t.fp)
}

func (t *fileTracker) stats() map[string]interface{} {
	return map[string]interface{}{
		"lines":        t.fp.LineReached,
		"total_failed": t.fp.TotalFailed,
	}
}
