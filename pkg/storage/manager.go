package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"reprocessor/pkg/cache"
	errs "reprocessor/pkg/errors"
)

const (
	artifactExt = ".artifact"
	metaExt     = ".meta.json"
)

// Manager is a cache.Store keeping each artifact in its own file, fanned out
// into sub-directories by the first two characters of the fingerprint.
type Manager struct {
	outputDir string
	known     map[string]bool
	mu        sync.RWMutex
}

var _ cache.Store = (*Manager)(nil)

type meta struct {
	ResourceURL string `json:"resource_url"`
	CreatedAt   string `json:"created_at"`
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errs.StoreUnavailable("create cache directory", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		known:     make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, errs.StoreUnavailable("scan cache directory", err)
	}
	return manager, nil
}

// scanExistingFiles indexes artifacts written by earlier runs.
func (m *Manager) scanExistingFiles() error {
	return filepath.WalkDir(m.outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), artifactExt) {
			m.known[strings.TrimSuffix(d.Name(), artifactExt)] = true
		}
		return nil
	})
}

func (m *Manager) base(fingerprint string) string {
	shard := fingerprint
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(m.outputDir, shard, fingerprint)
}

// Exists checks the in-memory index, then the file system.
func (m *Manager) Exists(ctx context.Context, fingerprint string) (bool, error) {
	m.mu.RLock()
	known := m.known[fingerprint]
	m.mu.RUnlock()
	if known {
		return true, nil
	}

	_, err := os.Stat(m.base(fingerprint) + artifactExt)
	switch {
	case err == nil:
		m.mu.Lock()
		m.known[fingerprint] = true
		m.mu.Unlock()
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errs.StoreUnavailable("stat cache entry", err)
	}
}

// Get reads an artifact and its metadata, or returns (nil, nil).
func (m *Manager) Get(ctx context.Context, fingerprint string) (*cache.Entry, error) {
	base := m.base(fingerprint)
	data, err := os.ReadFile(base + artifactExt)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.StoreUnavailable("read cache entry", err)
	}

	entry := &cache.Entry{Fingerprint: fingerprint, Artifact: data}
	if raw, err := os.ReadFile(base + metaExt); err == nil {
		var md meta
		if json.Unmarshal(raw, &md) == nil {
			entry.ResourceURL = md.ResourceURL
			entry.CreatedAt, _ = parseTime(md.CreatedAt)
		}
	}
	return entry, nil
}

// Put writes the metadata, then the artifact. The artifact is the presence
// marker, so a crash between the two writes leaves a miss, not a torn hit.
func (m *Manager) Put(ctx context.Context, e *cache.Entry) error {
	base := m.base(e.Fingerprint)
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return errs.StoreUnavailable("create cache shard", err)
	}

	md, err := json.Marshal(meta{ResourceURL: e.ResourceURL, CreatedAt: formatTime(e.CreatedAt)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}
	if err := writeAtomic(base+metaExt, bytes.NewReader(md)); err != nil {
		return err
	}
	if err := writeAtomic(base+artifactExt, bytes.NewReader(e.Artifact)); err != nil {
		return err
	}

	m.mu.Lock()
	m.known[e.Fingerprint] = true
	m.mu.Unlock()
	return nil
}

// writeAtomic copies r to a temporary file and renames it over filename.
func writeAtomic(filename string, r io.Reader) error {
	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return errs.StoreUnavailable("create temporary file", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return errs.StoreUnavailable("write cache data", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return errs.StoreUnavailable("close cache file", closeErr)
	}
	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return errs.StoreUnavailable("rename temporary file", err)
	}
	return nil
}

// Count returns the number of indexed artifacts
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.known)
}
