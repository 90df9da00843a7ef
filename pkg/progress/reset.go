package progress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
)

// Range is an inclusive 1-based range over an ordered list.
type Range struct {
	From int
	To   int
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Validate rejects ranges that start below 1 or end before they start.
func (r Range) Validate() error {
	if r.From < 1 || r.To < r.From {
		return fmt.Errorf("%w: %s", errs.ErrInvalidRange, r)
	}
	return nil
}

// ParseRange parses "a-b" or a single index "a".
func ParseRange(s string) (Range, error) {
	fromStr, toStr, found := strings.Cut(strings.TrimSpace(s), "-")
	if !found {
		toStr = fromStr
	}
	from, err1 := strconv.Atoi(strings.TrimSpace(fromStr))
	to, err2 := strconv.Atoi(strings.TrimSpace(toStr))
	if err1 != nil || err2 != nil {
		return Range{}, fmt.Errorf("%w: %q", errs.ErrInvalidRange, s)
	}
	r := Range{From: from, To: to}
	return r, r.Validate()
}

// ResetReport summarises a reset over one or more ranges.
type ResetReport struct {
	Examined int
	Reset    int
	Missing  int
}

// ResetFiles rewinds the files at positions r.From..r.To (1-based, inclusive)
// of orderedNames so they are processed again from the first line. The
// failure count restarts with the line cursor. Files
// without a record are counted as missing and left absent. Positions past the
// end of the list are ignored. Running it twice leaves the same state.
func ResetFiles(ctx context.Context, store FileStore, orderedNames []string, r Range, log logger.Logger) (ResetReport, error) {
	var report ResetReport
	if err := r.Validate(); err != nil {
		return report, err
	}
	log = logger.Execution(log)

	last := r.To
	if last > len(orderedNames) {
		last = len(orderedNames)
	}

	for i := r.From; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := orderedNames[i-1]
		report.Examined++

		fp, err := store.GetFile(ctx, name)
		if err != nil {
			return report, fmt.Errorf("reset %s: %w", name, err)
		}
		if fp == nil {
			report.Missing++
			log.DebugWithFields("no progress record, leaving absent", map[string]interface{}{
				"file":     name,
				"position": i,
			})
			continue
		}

		fp.LineReached = 0
		fp.EndOfFileReached = false
		fp.TotalFailed = 0
		fp.UpdatedAt = time.Now().UTC()
		if err := store.UpsertFile(ctx, fp); err != nil {
			return report, fmt.Errorf("reset %s: %w", name, err)
		}
		report.Reset++
	}

	log.InfoWithFields("file progress reset", map[string]interface{}{
		"range":    r.String(),
		"examined": report.Examined,
		"reset":    report.Reset,
		"missing":  report.Missing,
	})
	return report, nil
}

// ResetFileRanges applies ResetFiles to each range in turn and sums the reports.
func ResetFileRanges(ctx context.Context, store FileStore, orderedNames []string, ranges []Range, log logger.Logger) (ResetReport, error) {
	var total ResetReport
	for _, r := range ranges {
		rep, err := ResetFiles(ctx, store, orderedNames, r, log)
		total.Examined += rep.Examined
		total.Reset += rep.Reset
		total.Missing += rep.Missing
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
