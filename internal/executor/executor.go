// Package executor runs many work units through a fixed-size worker pool.
//
// Units are independent: a failing or panicking unit is reported and its
// siblings keep running. The one exception is an unavailable progress store,
// which stops the whole campaign.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reprocessor/internal/engine"
	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
)

// Runner processes one unit. engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, unit engine.WorkUnit) (engine.UnitReport, error)
}

// Locker takes a cross-process lock on a unit. unitlock.Dir implements it.
type Locker interface {
	TryLock(unitID string) (release func() error, ok bool, err error)
}

// Observer is told when units enter and leave a worker slot.
type Observer interface {
	UnitStarted()
	UnitFinished(status string)
}

// Options configures an Executor.
type Options struct {
	Workers int
	// RangeStart and RangeEnd bound OrderedIndex, both inclusive. A negative
	// RangeEnd means no upper bound.
	RangeStart int
	RangeEnd   int
	Locker     Locker
	Observer   Observer
	Logger     logger.Logger
}

// Executor runs campaigns.
type Executor struct {
	runner Runner
	opts   Options
	log    logger.Logger
}

// New builds an Executor around runner.
func New(runner Runner, opts Options) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("executor: runner is required")
	}
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("executor: workers must be positive, got %d", opts.Workers)
	}
	if opts.RangeStart < 0 || (opts.RangeEnd >= 0 && opts.RangeEnd < opts.RangeStart) {
		return nil, fmt.Errorf("%w: [%d, %d]", errs.ErrInvalidRange, opts.RangeStart, opts.RangeEnd)
	}
	return &Executor{runner: runner, opts: opts, log: logger.OrNop(opts.Logger)}, nil
}

// Select returns the units whose OrderedIndex lies in [start, end], ordered
// by OrderedIndex. A negative end means no upper bound.
func Select(units []engine.WorkUnit, start, end int) []engine.WorkUnit {
	var out []engine.WorkUnit
	for _, u := range units {
		if u.OrderedIndex < start || (end >= 0 && u.OrderedIndex > end) {
			continue
		}
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderedIndex < out[j].OrderedIndex })
	return out
}

// Run processes the selected units and blocks until every one of them has
// a report. The error is non-nil only when a store became unavailable.
func (e *Executor) Run(ctx context.Context, units []engine.WorkUnit) (Summary, error) {
	start := time.Now()
	selected := Select(units, e.opts.RangeStart, e.opts.RangeEnd)

	workers := e.opts.Workers
	if workers > len(selected) && len(selected) > 0 {
		workers = len(selected)
	}

	campaignCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	execLog := logger.Execution(e.log)
	execLog.InfoWithFields("campaign started", map[string]interface{}{
		"units":       len(selected),
		"workers":     workers,
		"range_start": e.opts.RangeStart,
		"range_end":   e.opts.RangeEnd,
	})

	pool := newWorkerPool(campaignCtx, workers, e.runner, e.opts.Locker, e.opts.Observer, e.log)
	pool.Start()

	var unsubmitted []engine.WorkUnit
	go func() {
		defer pool.Stop()
		for i, u := range selected {
			if err := pool.Submit(u); err != nil {
				unsubmitted = selected[i:]
				return
			}
		}
	}()

	summary := Summary{Attempted: len(selected)}
	var fatal error
	for report := range pool.Results() {
		summary.add(report)
		e.logUnit(execLog, report)
		if fatal == nil && errs.IsStoreUnavailable(report.Err) {
			fatal = report.Err
			execLog.ErrorWithFields("store unavailable, stopping campaign", map[string]interface{}{
				"unit_id": report.Unit.ID,
				"error":   report.Err.Error(),
			})
			cancel()
		}
	}
	for _, u := range unsubmitted {
		summary.add(engine.UnitReport{Unit: u, Status: engine.StatusStopped, Err: campaignCtx.Err()})
	}

	summary.Duration = time.Since(start)
	sort.SliceStable(summary.Reports, func(i, j int) bool {
		return summary.Reports[i].Unit.OrderedIndex < summary.Reports[j].Unit.OrderedIndex
	})
	logger.Statistics(e.log).InfoWithFields("campaign finished", summary.Fields())

	if fatal != nil {
		return summary, fmt.Errorf("campaign aborted: %w", fatal)
	}
	return summary, nil
}

func (e *Executor) logUnit(log logger.Logger, r engine.UnitReport) {
	fields := map[string]interface{}{
		"unit_id":       r.Unit.ID,
		"ordered_index": r.Unit.OrderedIndex,
		"status":        string(r.Status),
		"pages":         r.Pages,
		"items":         r.Items,
		"failed":        r.Failed,
		"duration":      r.Duration,
	}
	if r.Status == engine.StatusFailed {
		if r.Err != nil {
			fields["error"] = r.Err.Error()
		}
		log.ErrorWithFields("unit failed", fields)
		return
	}
	log.DebugWithFields("unit finished", fields)
}
