package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/progress"
	"reprocessor/pkg/source"
)

// checkpointTimeout bounds a checkpoint write that outlives a cancelled run.
const checkpointTimeout = 30 * time.Second

// Config wires an Engine.
type Config struct {
	Progress  progress.Store
	Files     progress.FileStore
	Source    source.Source
	Processor Processor
	PageSize  int
	Logger    logger.Logger
	Hook      PageHook
	Now       func() time.Time
}

// Engine runs units page by page. It holds no per-unit state, so one Engine
// serves every worker of an executor.
type Engine struct {
	progress progress.Store
	files    progress.FileStore
	src      source.Source
	cursor   *Cursor
	proc     Processor
	hook     PageHook
	log      logger.Logger
	now      func() time.Time
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil || cfg.Processor == nil {
		return nil, errors.New("engine: source and processor are required")
	}
	if cfg.Progress == nil && cfg.Files == nil {
		return nil, errors.New("engine: a progress store or file store is required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("engine: page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		progress: cfg.Progress,
		files:    cfg.Files,
		src:      cfg.Source,
		cursor:   NewCursor(cfg.Source, cfg.PageSize),
		proc:     cfg.Processor,
		hook:     cfg.Hook,
		log:      logger.OrNop(cfg.Logger),
		now:      cfg.Now,
	}, nil
}

// Run dispatches on unit.Kind.
func (e *Engine) Run(ctx context.Context, unit WorkUnit) (UnitReport, error) {
	if unit.Kind == KindFile {
		return e.RunFile(ctx, unit)
	}
	return e.RunUnit(ctx, unit)
}

// RunUnit processes a dataset unit from its last checkpoint to exhaustion.
// The returned error is report.Err; it is nil for completed and skipped units.
func (e *Engine) RunUnit(ctx context.Context, unit WorkUnit) (UnitReport, error) {
	report := UnitReport{Unit: unit}
	if e.progress == nil {
		report.Status, report.Err = StatusFailed, errors.New("engine: no progress store configured")
		return report, report.Err
	}
	start := e.now()

	rec, err := e.progress.Get(ctx, unit.ID)
	if err != nil {
		return e.failOrStop(ctx, report, start, err)
	}
	if rec == nil {
		total := unit.TotalItems
		if total <= 0 {
			if total, err = e.src.Count(ctx, unit.ID); err != nil {
				return e.failOrStop(ctx, report, start, fmt.Errorf("count %s: %w", unit.ID, err))
			}
		}
		rec = progress.NewRecord(unit.ID, unit.OrderedIndex, total, start.UTC())
		if err := e.progress.Upsert(ctx, rec); err != nil {
			return e.failOrStop(ctx, report, start, err)
		}
	}

	return e.run(ctx, report, start, &recordTracker{rec: rec, store: e.progress})
}

// RunFile processes a file of resource links from its last consumed line
// until end of file.
func (e *Engine) RunFile(ctx context.Context, unit WorkUnit) (UnitReport, error) {
	report := UnitReport{Unit: unit}
	if e.files == nil {
		report.Status, report.Err = StatusFailed, errors.New("engine: no file store configured")
		return report, report.Err
	}
	start := e.now()

	fp, err := e.files.GetFile(ctx, unit.ID)
	if err != nil {
		return e.failOrStop(ctx, report, start, err)
	}
	if fp == nil {
		fp = &progress.FileProgress{FileName: unit.ID}
	}

	return e.run(ctx, report, start, &fileTracker{fp: fp, store: e.files})
}

func (e *Engine) run(ctx context.Context, report UnitReport, start time.Time, t tracker) (UnitReport, error) {
	log := logger.Execution(e.log).WithFields(map[string]interface{}{
		"unit_id":       report.Unit.ID,
		"ordered_index": report.Unit.OrderedIndex,
		"kind":          string(report.Unit.Kind),
	})

	if skip, err := t.settled(ctx, e.now().UTC()); err != nil {
		return e.failOrStop(ctx, report, start, err)
	} else if skip {
		log.Debug("unit already complete, skipping")
		report.Status = StatusSkipped
		report.Duration = e.now().Sub(start)
		return report, nil
	}

	log.InfoWithFields("unit started", map[string]interface{}{
		"consumed": t.consumed(),
	})

	for {
		if err := ctx.Err(); err != nil {
			return e.stop(report, start, log, err)
		}

		pageStart := e.now()
		items, req, err := e.cursor.next(ctx, report.Unit.ID, t.consumed())
		if err != nil {
			if ctx.Err() != nil {
				return e.stop(report, start, log, ctx.Err())
			}
			log.WithError(err).Error("page fetch failed")
			return e.fail(report, start, err)
		}

		if len(items) == 0 {
			if drift := t.finish(e.now().UTC()); drift != 0 {
				log.WarnWithFields("item count drift corrected at completion", map[string]interface{}{
					"drift": drift,
				})
			}
			if err := e.checkpoint(ctx, t); err != nil {
				return e.fail(report, start, err)
			}
			report.Status = StatusCompleted
			report.Duration = e.now().Sub(start)
			e.logFinished(log, report, t)
			return report, nil
		}

		callStart := e.now()
		outcome, err := e.process(ctx, report.Unit, items)
		if err != nil {
			if ctx.Err() != nil {
				return e.stop(report, start, log, ctx.Err())
			}
			log.WithError(err).ErrorWithFields("page processing failed", map[string]interface{}{
				"page_index": req.PageIndex,
			})
			return e.fail(report, start, err)
		}
		if outcome.ProcessingSeconds == 0 {
			outcome.ProcessingSeconds = e.now().Sub(callStart).Seconds()
		}
		if outcome.Processed != len(items) {
			log.WarnWithFields("processor reported a different item count than the page held", map[string]interface{}{
				"page_index": req.PageIndex,
				"page_items": len(items),
				"reported":   outcome.Processed,
			})
		}
		failed := clamp(outcome.Failed, 0, len(items))
		if failed > 0 && ctx.Err() != nil {
			// Failures may be calls cut short by the stop. Replay the page.
			log.InfoWithFields("page interrupted, not checkpointed", map[string]interface{}{
				"page_index": req.PageIndex,
				"failed":     failed,
			})
			return e.stop(report, start, log, ctx.Err())
		}

		if drift := t.advance(len(items), failed, outcome, e.now().UTC()); drift != 0 {
			log.WarnWithFields("item count drift corrected", map[string]interface{}{
				"drift": drift,
			})
		}
		if err := e.checkpoint(ctx, t); err != nil {
			return e.fail(report, start, err)
		}

		elapsed := e.now().Sub(pageStart)
		report.Pages++
		report.Items += int64(len(items))
		report.Failed += int64(failed)
		if e.hook != nil {
			e.hook.PageDone(len(items), failed, elapsed)
		}
		log.DebugWithFields("page checkpointed", map[string]interface{}{
			"page_index": req.PageIndex,
			"items":      len(items),
			"failed":     failed,
			"consumed":   t.consumed(),
			"elapsed":    elapsed,
		})
	}
}

// checkpoint persists t on a context detached from ctx's cancellation.
func (e *Engine) checkpoint(ctx context.Context, t tracker) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	return t.save(ctx)
}

// process calls the processor and turns a panic into a page failure.
func (e *Engine) process(ctx context.Context, unit WorkUnit, items []source.Item) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()
	return e.proc.Process(ctx, unit, items)
}

func (e *Engine) fail(report UnitReport, start time.Time, err error) (UnitReport, error) {
	report.Status = StatusFailed
	report.Err = err
	report.Duration = e.now().Sub(start)
	if errs.IsStoreUnavailable(err) {
		logger.Execution(e.log).WithError(err).ErrorWithFields("progress store unavailable", map[string]interface{}{
			"unit_id": report.Unit.ID,
		})
	}
	return report, err
}

// failOrStop reports err as a stop when it was caused by ctx ending.
func (e *Engine) failOrStop(ctx context.Context, report UnitReport, start time.Time, err error) (UnitReport, error) {
	if ctx.Err() != nil {
		log := logger.Execution(e.log).WithField("unit_id", report.Unit.ID)
		return e.stop(report, start, log, ctx.Err())
	}
	return e.fail(report, start, err)
}

func (e *Engine) stop(report UnitReport, start time.Time, log logger.Logger, cause error) (UnitReport, error) {
	report.Status = StatusStopped
	report.Err = cause
	report.Duration = e.now().Sub(start)
	log.InfoWithFields("unit stopped", map[string]interface{}{
		"pages": report.Pages,
		"items": report.Items,
	})
	return report, cause
}

func (e *Engine) logFinished(log logger.Logger, report UnitReport, t tracker) {
	fields := map[string]interface{}{
		"unit_id":       report.Unit.ID,
		"pages":         report.Pages,
		"items":         report.Items,
		"failed":        report.Failed,
		"total_seconds": report.Duration.Seconds(),
	}
	for k, v := range t.stats() {
		fields[k] = v
	}
	log.Info("unit completed")
	logger.Statistics(e.log).InfoWithFields("unit timing", fields)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
