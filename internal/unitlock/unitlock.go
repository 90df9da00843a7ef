// Package unitlock keeps two processes from working on the same unit at
// the same time.
package unitlock

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Dir hands out one lock file per unit inside a directory.
type Dir struct {
	path string
}

// New creates the lock directory when missing.
func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// TryLock takes the lock for unitID without blocking. ok is false when
// another holder has it. The returned release func must be called once ok
// is true.
func (d *Dir) TryLock(unitID string) (release func() error, ok bool, err error) {
	lock := flock.New(filepath.Join(d.path, url.PathEscape(unitID)+".lock"))
	ok, err = lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock for %s: %w", unitID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return lock.Unlock, true, nil
}
