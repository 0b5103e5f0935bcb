// Package column implements the line-addressed column file store: one
// physical file per flattened leaf path, line N holding the cell for the
// row at storage position N. Every column file of a table carries the same
// line count at all times; an absent value is an empty line, never a
// missing one.
package column

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/internal/dberr"
)

// FileExt is the column file suffix inside a table directory.
const FileExt = ".col"

// Store performs line-addressed reads and writes over one table's column
// files. The table engine serializes mutating calls; the store itself only
// guards its offset index.
type Store struct {
	dir        string
	compressed bool

	mu      sync.Mutex
	offsets map[string][]int64 // uncompressed mode: cached line start offsets per path
}

// Open creates a store over a table directory, creating it if needed.
func Open(dir string, compressed bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, dberr.NewStorage(dberr.CodeWriteFailed, "create table directory", err)
	}
	return &Store{
		dir:        dir,
		compressed: compressed,
		offsets:    make(map[string][]int64),
	}, nil
}

// Dir returns the table directory the store operates on.
func (s *Store) Dir() string { return s.dir }

// Compressed reports the store's current mode.
func (s *Store) Compressed() bool { return s.compressed }

func (s *Store) filePath(path string) string {
	return filepath.Join(s.dir, path+FileExt)
}

// Create makes empty column files for the given paths. Existing files are
// left alone.
func (s *Store) Create(paths []string) error {
	for _, p := range paths {
		fp := s.filePath(p)
		if _, err := os.Stat(fp); err == nil {
			continue
		}
		if err := s.writeLines(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// Paths lists the column paths present in the table directory, sorted.
func (s *Store) Paths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read table directory", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), FileExt))
	}
	sort.Strings(out)
	return out, nil
}

// LineCount returns the number of rows stored in a column file.
func (s *Store) LineCount(path string) (int, error) {
	if s.compressed {
		lines, err := s.readAllCompressed(path)
		if err != nil {
			return 0, err
		}
		return len(lines), nil
	}
	starts, err := s.index(path)
	if err != nil {
		return 0, err
	}
	return len(starts) - 1, nil
}

// ReadAll returns every cell of a column in storage order.
func (s *Store) ReadAll(path string) ([]string, error) {
	if s.compressed {
		return s.readAllCompressed(path)
	}
	return s.readAllPlain(path)
}

// ReadLine returns the cell at a 1-indexed storage position. In
// uncompressed mode this seeks straight to the line through the offset
// index instead of scanning the file.
func (s *Store) ReadLine(path string, n int) (string, error) {
	if n < 1 {
		return "", dberr.NewStorage(dberr.CodeReadFailed,
			fmt.Sprintf("line %d out of range", n), nil)
	}
	if s.compressed {
		lines, err := s.readAllCompressed(path)
		if err != nil {
			return "", err
		}
		if n > len(lines) {
			return "", dberr.NewStorage(dberr.CodeReadFailed,
				fmt.Sprintf("line %d out of range", n), nil)
		}
		return lines[n-1], nil
	}
	return s.readLinePlain(path, n)
}

// ReadRange returns cells for 1-indexed positions [from, to]. A to past the
// end is clamped; an empty range returns nil.
func (s *Store) ReadRange(path string, from, to int) ([]string, error) {
	if from < 1 {
		from = 1
	}
	count, err := s.LineCount(path)
	if err != nil {
		return nil, err
	}
	if to > count {
		to = count
	}
	if from > to {
		return nil, nil
	}
	if s.compressed {
		lines, err := s.readAllCompressed(path)
		if err != nil {
			return nil, err
		}
		return lines[from-1 : to], nil
	}
	return s.readRangePlain(path, from, to)
}

// Insert writes one new row: the cell for every column path, appended as
// the last line or, under the prepend policy, spliced in as the first.
// Paths missing from cells get an empty line so all files stay aligned.
func (s *Store) Insert(paths []string, cells map[string]string, prepend bool) error {
	for _, p := range paths {
		cell := cells[p]
		if prepend {
			lines, err := s.ReadAll(p)
			if err != nil {
				return err
			}
			if err := s.writeLines(p, append([]string{cell}, lines...)); err != nil {
				return err
			}
			continue
		}
		if s.compressed {
			lines, err := s.readAllCompressed(p)
			if err != nil {
				return err
			}
			if err := s.writeLines(p, append(lines, cell)); err != nil {
				return err
			}
			continue
		}
		if err := s.appendPlain(p, cell); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLine overwrites the cell at a 1-indexed position in the given
// columns only.
func (s *Store) UpdateLine(n int, cells map[string]string) error {
	for p, cell := range cells {
		lines, err := s.ReadAll(p)
		if err != nil {
			return err
		}
		if n < 1 || n > len(lines) {
			return dberr.NewStorage(dberr.CodeWriteFailed,
				fmt.Sprintf("line %d out of range", n), nil)
		}
		lines[n-1] = cell
		if err := s.writeLines(p, lines); err != nil {
			return err
		}
	}
	return nil
}

// DeleteLines removes the rows at the given 1-indexed positions from every
// column, shifting the remainder up so all files stay aligned.
func (s *Store) DeleteLines(paths []string, positions []int) error {
	if len(positions) == 0 {
		return nil
	}
	drop := make(map[int]bool, len(positions))
	for _, n := range positions {
		drop[n] = true
	}
	for _, p := range paths {
		lines, err := s.ReadAll(p)
		if err != nil {
			return err
		}
		kept := lines[:0]
		for i, line := range lines {
			if !drop[i+1] {
				kept = append(kept, line)
			}
		}
		if err := s.writeLines(p, kept); err != nil {
			return err
		}
	}
	return nil
}

// Truncate removes every row from every column.
func (s *Store) Truncate(paths []string) error {
	for _, p := range paths {
		if err := s.writeLines(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// Resize pads (with empty cells) or truncates a column to exactly n lines.
// Used by journal recovery to restore alignment.
func (s *Store) Resize(path string, n int) error {
	lines, err := s.ReadAll(path)
	if err != nil {
		return err
	}
	switch {
	case len(lines) > n:
		lines = lines[:n]
	case len(lines) < n:
		for len(lines) < n {
			lines = append(lines, "")
		}
	default:
		return nil
	}
	return s.writeLines(path, lines)
}

// ResizeHead pads or truncates a column to exactly n lines at the head of
// the file. Used by journal recovery for prepend tables, where a torn
// write sits at the start of the file.
func (s *Store) ResizeHead(path string, n int) error {
	lines, err := s.ReadAll(path)
	if err != nil {
		return err
	}
	switch {
	case len(lines) > n:
		lines = lines[len(lines)-n:]
	case len(lines) < n:
		pad := make([]string, n-len(lines))
		lines = append(pad, lines...)
	default:
		return nil
	}
	return s.writeLines(path, lines)
}

// AddColumn creates a new column file padded to n empty lines.
func (s *Store) AddColumn(path string, n int) error {
	lines := make([]string, n)
	return s.writeLines(path, lines)
}

// RenameColumn moves a column file to a new path.
func (s *Store) RenameColumn(oldPath, newPath string) error {
	if err := os.Rename(s.filePath(oldPath), s.filePath(newPath)); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "rename column", err)
	}
	s.mu.Lock()
	delete(s.offsets, oldPath)
	delete(s.offsets, newPath)
	s.mu.Unlock()
	return nil
}

// RemoveColumn deletes a column file.
func (s *Store) RemoveColumn(path string) error {
	if err := os.Remove(s.filePath(path)); err != nil && !os.IsNotExist(err) {
		return dberr.NewStorage(dberr.CodeWriteFailed, "remove column", err)
	}
	s.mu.Lock()
	delete(s.offsets, path)
	s.mu.Unlock()
	return nil
}

// SetCompression migrates every column file between modes. Each file is
// fully read in the old mode and rewritten in the new one; row count and
// line alignment, blank placeholders included, are preserved exactly.
func (s *Store) SetCompression(compressed bool) error {
	if compressed == s.compressed {
		return nil
	}
	paths, err := s.Paths()
	if err != nil {
		return err
	}
	contents := make(map[string][]string, len(paths))
	for _, p := range paths {
		lines, err := s.ReadAll(p)
		if err != nil {
			return err
		}
		contents[p] = lines
	}
	s.compressed = compressed
	s.mu.Lock()
	s.offsets = make(map[string][]int64)
	s.mu.Unlock()
	for _, p := range paths {
		if err := s.writeLines(p, contents[p]); err != nil {
			return err
		}
	}
	return nil
}

// writeLines rewrites a whole column file atomically: the new content goes
// to a uniquely named temp file in the same directory, then renames over
// the target.
func (s *Store) writeLines(path string, lines []string) error {
	var payload []byte
	if len(lines) > 0 {
		payload = []byte(strings.Join(lines, "\n") + "\n")
	}
	if s.compressed {
		payload = compress(payload)
	}

	tmp := filepath.Join(s.dir, fmt.Sprintf(".%s.%s.tmp", path, uuid.New().String()[:8]))
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "write column temp file", err)
	}
	if err := os.Rename(tmp, s.filePath(path)); err != nil {
		os.Remove(tmp)
		return dberr.NewStorage(dberr.CodeWriteFailed, "replace column file", err)
	}

	s.mu.Lock()
	delete(s.offsets, path)
	s.mu.Unlock()
	return nil
}
