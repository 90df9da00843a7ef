package executor

import (
	"time"

	"reprocessor/internal/engine"
)

// Summary aggregates the unit reports of one campaign.
type Summary struct {
	Attempted   int
	Completed   int
	Skipped     int
	Locked      int
	Failed      int
	Stopped     int
	Items       int64
	ItemsFailed int64
	Duration    time.Duration
	Reports     []engine.UnitReport
}

func (s *Summary) add(r engine.UnitReport) {
	switch r.Status {
	case engine.StatusCompleted:
		s.Completed++
	case engine.StatusSkipped:
		s.Skipped++
	case engine.StatusLocked:
		s.Locked++
	case engine.StatusStopped:
		s.Stopped++
	default:
		s.Failed++
	}
	s.Items += r.Items
	s.ItemsFailed += r.Failed
	s.Reports = append(s.Reports, r)
}

// OK reports whether every attempted unit completed or was already complete.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Stopped == 0 && s.Locked == 0
}

// Fields renders the summary as log fields.
func (s Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"attempted":    s.Attempted,
		"completed":    s.Completed,
		"skipped":      s.Skipped,
		"locked":       s.Locked,
		"failed":       s.Failed,
		"stopped":      s.Stopped,
		"items":        s.Items,
		"items_failed": s.ItemsFailed,
		"duration":     s.Duration,
		"ok":           s.OK(),
	}
}
