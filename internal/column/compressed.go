package column

import (
	"os"

	"github.com/golang/snappy"

	"github.com/stratumdb/stratum/internal/dberr"
)

// Compressed mode trades throughput for storage: each column file is one
// snappy blob, so every read or write decodes the whole content, performs
// the line-level operation, and (for writes) re-encodes and rewrites the
// file. The line addressing invariant still holds logically; it is just no
// longer physically seekable.

func compress(payload []byte) []byte {
	return snappy.Encode(nil, payload)
}

func (s *Store) readAllCompressed(path string) ([]string, error) {
	raw, err := os.ReadFile(s.filePath(path))
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read column file", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	payload, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "decompress column file", err)
	}
	return splitLines(payload), nil
}
