package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	errs "reprocessor/pkg/errors"
	"reprocessor/pkg/logger"
	"reprocessor/pkg/progress"
)

const (
	unitsDir  = "units"
	filesDir  = "files"
	extension = ".checkpoint.json"
)

// Manager is a progress.Store and progress.FileStore keeping one JSON
// checkpoint file per unit or links file under a directory.
type Manager struct {
	root   string
	logger logger.Logger
	mu     sync.Mutex
}

var (
	_ progress.Store     = (*Manager)(nil)
	_ progress.FileStore = (*Manager)(nil)
)

// NewManager creates a checkpoint manager rooted at dir. An empty dir uses
// DataDirectory()/checkpoints.
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dataDir, err := DataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}

	for _, sub := range []string{unitsDir, filesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, errs.StoreUnavailable("create checkpoints directory", err)
		}
	}

	return &Manager{root: dir, logger: logger.OrNop(log)}, nil
}

// Root returns the checkpoint directory.
func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) path(kind, key string) string {
	return filepath.Join(m.root, kind, url.PathEscape(key)+extension)
}

// Get loads the checkpoint of a unit, or (nil, nil) when none exists.
func (m *Manager) Get(ctx context.Context, unitID string) (*progress.Record, error) {
	var rec progress.Record
	found, err := m.load(m.path(unitsDir, unitID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// Upsert writes the checkpoint of a unit atomically.
func (m *Manager) Upsert(ctx context.Context, rec *progress.Record) error {
	if err := m.save(m.path(unitsDir, rec.UnitID), rec); err != nil {
		return err
	}
	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"unit_id":         rec.UnitID,
		"total_processed": rec.TotalProcessed,
		"total_items":     rec.TotalItems,
	})
	return nil
}

// ListUnitsOrdered returns the ids of all units with a checkpoint, sorted.
func (m *Manager) ListUnitsOrdered(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, unitsDir))
	if err != nil {
		return nil, errs.StoreUnavailable("list checkpoints", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, extension) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, extension))
		if err != nil {
			m.logger.WarnWithFields("Skipping unreadable checkpoint name", map[string]interface{}{"file": name})
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetFile loads the progress of a links file, or (nil, nil) when none exists.
func (m *Manager) GetFile(ctx context.Context, name string) (*progress.FileProgress, error) {
	var fp progress.FileProgress
	found, err := m.load(m.path(filesDir, name), &fp)
	if err != nil || !found {
		return nil, err
	}
	return &fp, nil
}

// UpsertFile writes the progress of a links file atomically.
func (m *Manager) UpsertFile(ctx context.Context, fp *progress.FileProgress) error {
	return m.save(m.path(filesDir, fp.FileName), fp)
}

func (m *Manager) load(path string, v interface{}) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.StoreUnavailable("open checkpoint file", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return false, errs.StoreUnavailable("decode checkpoint "+filepath.Base(path), err)
	}
	return true, nil
}

// save writes v to a temporary file, syncs it and renames it over path so a
// crash never leaves a torn checkpoint behind.
func (m *Manager) save(path string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return errs.StoreUnavailable("create temporary checkpoint file", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.StoreUnavailable("encode checkpoint", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.StoreUnavailable("sync checkpoint file", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.StoreUnavailable("close checkpoint file", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errs.StoreUnavailable("replace checkpoint file", err)
	}
	return nil
}

// DataDirectory is $XDG_DATA_HOME/reprocessor, or ~/.local/share/reprocessor
// when XDG_DATA_HOME is unset. It is created if missing.
func DataDirectory() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "reprocessor")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}
