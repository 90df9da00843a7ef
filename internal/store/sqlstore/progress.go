package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/progress"
)

var (
	_ progress.Store     = (*ProgressStore)(nil)
	_ progress.FileStore = (*ProgressStore)(nil)
)

// ProgressStore is the progress and file progress view of a Store.
type ProgressStore struct {
	s *Store
}

// Progress returns the progress view of s.
func (s *Store) Progress() *ProgressStore {
	return &ProgressStore{s: s}
}

var progressColumns = []string{
	"unit_id", "ordered_index", "total_items", "total_processed", "total_failed",
	"started_at", "completed_at", "processing_seconds", "downstream_seconds",
}

var fileColumns = []string{
	"file_name", "line_reached", "end_of_file_reached", "total_failed", "updated_at",
}

// Get returns the record for unitID, or (nil, nil) when there is none.
func (p *ProgressStore) Get(ctx context.Context, unitID string) (*progress.Record, error) {
	row, err := p.s.queryRow(ctx, p.s.sb.Select(progressColumns...).From("progress").Where("unit_id = ?", unitID))
	if err != nil {
		return nil, err
	}

	var (
		rec       progress.Record
		started   string
		completed sql.NullString
	)
	err = row.Scan(&rec.UnitID, &rec.OrderedIndex, &rec.TotalItems, &rec.TotalProcessed, &rec.TotalFailed,
		&started, &completed, &rec.ProcessingSeconds, &rec.DownstreamSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable("get progress "+unitID, err)
	}

	if rec.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("progress %s: bad started_at: %w", unitID, err)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, fmt.Errorf("progress %s: bad completed_at: %w", unitID, err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// Upsert replaces the record keyed by rec.UnitID.
func (p *ProgressStore) Upsert(ctx context.Context, rec *progress.Record) error {
	var completed any
	if rec.CompletedAt != nil {
		completed = formatTime(*rec.CompletedAt)
	}
	q := upsert(p.s.sb, "progress", "unit_id", progressColumns, []any{
		rec.UnitID, rec.OrderedIndex, rec.TotalItems, rec.TotalProcessed, rec.TotalFailed,
		formatTime(rec.StartedAt), completed, rec.ProcessingSeconds, rec.DownstreamSeconds,
	})
	if err := p.s.execBuilt(ctx, q); err != nil {
		return errs.StoreUnavailable("upsert progress "+rec.UnitID, err)
	}
	return nil
}

// ListUnitsOrdered returns every recorded unit id in lexical order.
func (p *ProgressStore) ListUnitsOrdered(ctx context.Context) ([]string, error) {
	query, args, err := p.s.sb.Select("unit_id").From("progress").OrderBy("unit_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := p.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.StoreUnavailable("list progress", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.StoreUnavailable("scan progress id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StoreUnavailable("list progress", err)
	}
	return ids, nil
}

// GetFile returns the progress of a links file, or (nil, nil).
func (p *ProgressStore) GetFile(ctx context.Context, name string) (*progress.FileProgress, error) {
	row, err := p.s.queryRow(ctx, p.s.sb.Select(fileColumns...).From("file_progress").Where("file_name = ?", name))
	if err != nil {
		return nil, err
	}

	var (
		fp      progress.FileProgress
		updated string
	)
	err = row.Scan(&fp.FileName, &fp.LineReached, &fp.EndOfFileReached, &fp.TotalFailed, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable("get file progress "+name, err)
	}
	if fp.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("file progress %s: bad updated_at: %w", name, err)
	}
	return &fp, nil
}

// UpsertFile replaces the progress of fp.FileName.
func (p *ProgressStore) UpsertFile(ctx context.Context, fp *progress.FileProgress) error {
	q := upsert(p.s.sb, "file_progress", "file_name", fileColumns, []any{
		fp.FileName, fp.LineReached, fp.EndOfFileReached, fp.TotalFailed, formatTime(fp.UpdatedAt),
	})
	if err := p.s.execBuilt(ctx, q); err != nil {
		return errs.StoreUnavailable("upsert file progress "+fp.FileName, err)
	}
	return nil
}
