package column

import (
	"bytes"
	"os"
	"strings"

	"github.com/stratumdb/stratum/internal/dberr"
)

// index returns the cached line-start offsets for an uncompressed column
// file, building them on first access. The slice carries a sentinel final
// entry holding the file size, so line i (0-based) spans
// [starts[i], starts[i+1]-1) and the line count is len(starts)-1.
func (s *Store) index(path string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if starts, ok := s.offsets[path]; ok {
		return starts, nil
	}

	payload, err := os.ReadFile(s.filePath(path))
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read column file", err)
	}
	starts := []int64{0}
	var pos int64
	for _, b := range payload {
		pos++
		if b == '\n' {
			starts = append(starts, pos)
		}
	}
	// A well-formed non-empty file ends in a newline; tolerate a missing
	// trailing one by counting the partial line.
	if pos > starts[len(starts)-1] {
		starts = append(starts, pos)
	}
	s.offsets[path] = starts
	return starts, nil
}

func (s *Store) readLinePlain(path string, n int) (string, error) {
	starts, err := s.index(path)
	if err != nil {
		return "", err
	}
	count := len(starts) - 1
	if n > count {
		return "", dberr.NewStorage(dberr.CodeReadFailed, "line out of range", nil)
	}

	f, err := os.Open(s.filePath(path))
	if err != nil {
		return "", dberr.NewStorage(dberr.CodeReadFailed, "open column file", err)
	}
	defer f.Close()

	length := starts[n] - starts[n-1]
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, starts[n-1]); err != nil {
		return "", dberr.NewStorage(dberr.CodeReadFailed, "seek column line", err)
	}
	return string(bytes.TrimSuffix(buf, []byte{'\n'})), nil
}

func (s *Store) readRangePlain(path string, from, to int) ([]string, error) {
	starts, err := s.index(path)
	if err != nil {
		return nil, err
	}
	count := len(starts) - 1
	if to > count {
		to = count
	}
	if from > to {
		return nil, nil
	}

	f, err := os.Open(s.filePath(path))
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "open column file", err)
	}
	defer f.Close()

	buf := make([]byte, starts[to]-starts[from-1])
	if _, err := f.ReadAt(buf, starts[from-1]); err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "seek column range", err)
	}
	return splitLines(buf), nil
}

func (s *Store) readAllPlain(path string) ([]string, error) {
	payload, err := os.ReadFile(s.filePath(path))
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read column file", err)
	}
	return splitLines(payload), nil
}

// appendPlain adds one line at the end of a column file without rewriting
// it, extending the offset index in place when it is already built.
func (s *Store) appendPlain(path, cell string) error {
	f, err := os.OpenFile(s.filePath(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "open column file", err)
	}
	defer f.Close()
	if _, err := f.WriteString(cell + "\n"); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "append column line", err)
	}

	s.mu.Lock()
	if starts, ok := s.offsets[path]; ok {
		end := starts[len(starts)-1] + int64(len(cell)) + 1
		s.offsets[path] = append(starts, end)
	}
	s.mu.Unlock()
	return nil
}

// splitLines converts raw column file content into cells. An empty file is
// zero rows; a file holding a lone newline is one row with an empty cell.
func splitLines(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(payload), "\n")
	return strings.Split(text, "\n")
}
