package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reprocessor/internal/engine"
	"reprocessor/pkg/logger"
)

// workerPool runs units on a fixed number of goroutines.
type workerPool struct {
	numWorkers  int
	jobQueue    chan engine.WorkUnit
	resultQueue chan engine.UnitReport
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	runner      Runner
	locker      Locker
	observer    Observer
	logger      logger.Logger
}

func newWorkerPool(ctx context.Context, numWorkers int, runner Runner, locker Locker, observer Observer, log logger.Logger) *workerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &workerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan engine.WorkUnit, numWorkers*2),
		resultQueue: make(chan engine.UnitReport, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		runner:      runner,
		locker:      locker,
		observer:    observer,
		logger:      log,
	}
}

// Start launches the workers.
func (wp *workerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for every queued unit to be reported and
// closes the result channel.
func (wp *workerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
	wp.logger.Debug("Worker pool stopped")
}

// Submit queues a unit. It fails once the pool context is cancelled.
func (wp *workerPool) Submit(unit engine.WorkUnit) error {
	if wp.ctx.Err() != nil {
		return fmt.Errorf("worker pool is shutting down")
	}
	select {
	case wp.jobQueue <- unit:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the channel of finished unit reports.
func (wp *workerPool) Results() <-chan engine.UnitReport {
	return wp.resultQueue
}

func (wp *workerPool) worker(id int) {
	defer wp.wg.Done()

	for unit := range wp.jobQueue {
		var report engine.UnitReport
		if err := wp.ctx.Err(); err != nil {
			// Drain the queue so every submitted unit is reported.
			report = engine.UnitReport{Unit: unit, Status: engine.StatusStopped, Err: err}
		} else {
			report = wp.processJob(unit, id)
		}
		wp.resultQueue <- report
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

func (wp *workerPool) processJob(unit engine.WorkUnit, workerID int) (report engine.UnitReport) {
	start := time.Now()

	if wp.locker != nil {
		release, ok, err := wp.locker.TryLock(unit.ID)
		if err != nil {
			return engine.UnitReport{Unit: unit, Status: engine.StatusFailed, Err: err}
		}
		if !ok {
			wp.logger.InfoWithFields("unit locked by another process, skipping", map[string]interface{}{
				"unit_id": unit.ID,
			})
			return engine.UnitReport{Unit: unit, Status: engine.StatusLocked}
		}
		defer func() {
			if err := release(); err != nil {
				wp.logger.WarnWithFields("failed to release unit lock", map[string]interface{}{
					"unit_id": unit.ID,
					"error":   err.Error(),
				})
			}
		}()
	}

	if wp.observer != nil {
		wp.observer.UnitStarted()
		defer func() { wp.observer.UnitFinished(string(report.Status)) }()
	}

	defer func() {
		if r := recover(); r != nil {
			report = engine.UnitReport{
				Unit:     unit,
				Status:   engine.StatusFailed,
				Err:      fmt.Errorf("unit %s panicked: %v", unit.ID, r),
				Duration: time.Since(start),
			}
			wp.logger.ErrorWithFields("unit panicked", map[string]interface{}{
				"worker_id": workerID,
				"unit_id":   unit.ID,
				"panic":     fmt.Sprint(r),
			})
		}
	}()

	wp.logger.DebugWithFields("Worker processing unit", map[string]interface{}{
		"worker_id": workerID,
		"unit_id":   unit.ID,
	})

	report, err := wp.runner.Run(wp.ctx, unit)
	if err != nil && report.Err == nil {
		report.Err = err
	}
	if report.Status == "" {
		report.Status = engine.StatusFailed
		if report.Err == nil {
			report.Status = engine.StatusCompleted
		}
	}
	report.Unit = unit
	return report
}
