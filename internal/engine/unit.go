// Package engine drives one work unit through its pages, checkpointing
// progress after every page so an interrupted run resumes where it stopped.
package engine

import (
	"context"
	"errors"
	"time"

	"reprocessor/pkg/source"
)

// Kind tells which progress model a unit uses.
type Kind string

const (
	KindDataset Kind = "dataset"
	KindFile    Kind = "file"
)

// WorkUnit is one independently processable batch of items. TotalItems may
// be zero when the count is not known yet.
type WorkUnit struct {
	ID           string
	TotalItems   int64
	OrderedIndex int
	Kind         Kind
}

// Status is the final state of a unit within one run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusLocked    Status = "locked"
)

// OK reports whether the status leaves nothing for a later run to do.
func (s Status) OK() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// ErrProcessorPanic wraps a value recovered from a panicking Processor.
var ErrProcessorPanic = errors.New("processor panicked")

// UnitReport describes what one RunUnit or RunFile call did.
type UnitReport struct {
	Unit     WorkUnit
	Status   Status
	Pages    int
	Items    int64
	Failed   int64
	Duration time.Duration
	Err      error
}

// Outcome is what a Processor reports for one page. Item level failures are
// counted in Failed rather than returned as an error.
type Outcome struct {
	Processed         int
	Failed            int
	ProcessingSeconds float64
	DownstreamSeconds float64
}

// Processor transforms one page of items. A returned error fails the whole
// page and the unit; nothing of that page is checkpointed.
type Processor interface {
	Process(ctx context.Context, unit WorkUnit, items []source.Item) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, unit WorkUnit, items []source.Item) (Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, unit WorkUnit, items []source.Item) (Outcome, error) {
	return f(ctx, unit, items)
}

// PageHook observes every checkpointed page.
type PageHook interface {
	PageDone(items, failed int, elapsed time.Duration)
}
