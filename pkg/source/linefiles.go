package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// LineFiles exposes a directory of resource-link files. Each regular file is
// a unit named after the file and each line is one item whose URL is the
// trimmed line. Items are addressed by 0-based line index, blank lines
// included, so a line index is stable across runs.
type LineFiles struct {
	dir string
}

var (
	_ Source     = (*LineFiles)(nil)
	_ UnitLister = (*LineFiles)(nil)
)

// NewLineFiles creates a source over dir.
func NewLineFiles(dir string) *LineFiles {
	return &LineFiles{dir: dir}
}

// Dir returns the directory being read.
func (l *LineFiles) Dir() string {
	return l.dir
}

// ListUnits returns the names of the regular, non-hidden files, sorted.
func (l *LineFiles) ListUnits(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list links directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of lines in the file.
func (l *LineFiles) Count(ctx context.Context, name string) (int64, error) {
	var n int64
	err := l.scan(ctx, name, func(int64, string) bool {
		n++
		return true
	})
	return n, err
}

// FetchPage returns up to limit lines starting at line index skip.
func (l *LineFiles) FetchPage(ctx context.Context, name string, skip, limit int) ([]Item, error) {
	items := make([]Item, 0, limit)
	err := l.scan(ctx, name, func(idx int64, line string) bool {
		if idx < int64(skip) {
			return true
		}
		items = append(items, Item{
			ID:  name + ":" + strconv.FormatInt(idx, 10),
			URL: strings.TrimSpace(line),
		})
		return len(items) < limit
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (l *LineFiles) scan(ctx context.Context, name string, fn func(idx int64, line string) bool) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid links file name %q", name)
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return fmt.Errorf("open links file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var idx int64
	for scanner.Scan() {
		if idx%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !fn(idx, scanner.Text()) {
			return nil
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read links file %s: %w", name, err)
	}
	return nil
}
