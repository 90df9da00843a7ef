package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/progress"
)

func TestCheckpointManager(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mgr, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	t.Run("GetMissing", func(t *testing.T) {
		rec, err := mgr.Get(ctx, "nope")
		if err != nil || rec != nil {
			t.Errorf("Expected (nil, nil), got (%v, %v)", rec, err)
		}
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		rec := progress.NewRecord("2048/Art", 3, 450, time.Now().UTC())
		rec.TotalProcessed = 200
		rec.ProcessingSeconds = 12.5

		if err := mgr.Upsert(ctx, rec); err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}

		loaded, err := mgr.Get(ctx, "2048/Art")
		if err != nil {
			t.Fatalf("Failed to load checkpoint: %v", err)
		}
		if loaded == nil {
			t.Fatal("Expected checkpoint, got nil")
		}
		if loaded.TotalProcessed != 200 || loaded.TotalItems != 450 || loaded.OrderedIndex != 3 {
			t.Errorf("Unexpected record: %+v", loaded)
		}
		if loaded.CompletedAt != nil {
			t.Error("Expected no completion timestamp")
		}
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		now := time.Now().UTC()
		rec := progress.NewRecord("2048/Art", 3, 450, now)
		rec.TotalProcessed = 450
		rec.CompletedAt = &now
		if err := mgr.Upsert(ctx, rec); err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}

		loaded, _ := mgr.Get(ctx, "2048/Art")
		if loaded.CompletedAt == nil || loaded.TotalProcessed != 450 {
			t.Errorf("Expected completed record, got %+v", loaded)
		}
	})

	t.Run("ListUnitsOrdered", func(t *testing.T) {
		for _, id := range []string{"zeta", "alpha", "mid"} {
			if err := mgr.Upsert(ctx, progress.NewRecord(id, 0, 1, time.Now())); err != nil {
				t.Fatal(err)
			}
		}
		ids, err := mgr.ListUnitsOrdered(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"2048/Art", "alpha", "mid", "zeta"}
		if len(ids) != len(want) {
			t.Fatalf("Expected %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("Position %d: expected %s, got %s", i, want[i], ids[i])
			}
		}
	})

	t.Run("NoTemporaryFilesLeft", func(t *testing.T) {
		matches, _ := filepath.Glob(filepath.Join(dir, unitsDir, "*.tmp"))
		if len(matches) != 0 {
			t.Errorf("Expected no temporary files, got %v", matches)
		}
	})
}

func TestFileProgress(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	fp := &progress.FileProgress{FileName: "links-001.txt", LineReached: 400}
	if err := mgr.UpsertFile(ctx, fp); err != nil {
		t.Fatalf("Failed to upsert file progress: %v", err)
	}

	loaded, err := mgr.GetFile(ctx, "links-001.txt")
	if err != nil || loaded == nil {
		t.Fatalf("Expected file progress, got (%v, %v)", loaded, err)
	}
	if loaded.LineReached != 400 || loaded.EndOfFileReached {
		t.Errorf("Unexpected file progress: %+v", loaded)
	}

	report, err := progress.ResetFiles(ctx, mgr, []string{"links-001.txt", "links-002.txt"}, progress.Range{From: 1, To: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Reset != 1 || report.Missing != 1 {
		t.Errorf("Unexpected reset report: %+v", report)
	}
	if missing, _ := mgr.GetFile(ctx, "links-002.txt"); missing != nil {
		t.Error("Reset must not create records")
	}
}

func TestCorruptCheckpointIsStoreFailure(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mgr.path(unitsDir, "broken"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = mgr.Get(context.Background(), "broken")
	if !errs.IsStoreUnavailable(err) {
		t.Errorf("Expected store unavailable error, got %v", err)
	}
}

func TestDefaultDirectory(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	mgr, err := NewManager("", nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mgr.Root(), unitsDir)); err != nil {
		t.Errorf("Expected units directory: %v", err)
	}
}
