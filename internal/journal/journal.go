// Package journal provides a minimal write-ahead intent record for the
// multi-column writes of one logical row. A crash between column files can
// leave a table's files at unequal line counts; the journal records the
// pre-operation line count so recovery can pad or truncate every column
// back into alignment. It is not a transaction log: repaired rows are
// rolled back, not replayed.
package journal

import (
	"encoding/json"
	"hash/crc32"
	"os"
	"time"

	"github.com/stratumdb/stratum/internal/dberr"
)

// FileName is the journal file inside a table directory.
const FileName = "journal.log"

// Journal guards one table's column files.
type Journal struct {
	path string
}

// Intent is the persisted record: the operation about to run, the line
// count every column file held before it started, and whether the
// operation writes at the head of the files (prepend policy). Recovery
// must trim from the same end the torn write landed on.
type Intent struct {
	Op        string   `json:"op"`
	Lines     int      `json:"lines"`
	Prepend   bool     `json:"prepend,omitempty"`
	Columns   []string `json:"columns"`
	Timestamp int64    `json:"ts"`
	Checksum  uint32   `json:"crc"`
}

func (i *Intent) sum() uint32 {
	crc := crc32.NewIEEE()
	crc.Write([]byte(i.Op))
	for _, c := range i.Columns {
		crc.Write([]byte(c))
		crc.Write([]byte{0})
	}
	var lines [8]byte
	for b := 0; b < 8; b++ {
		lines[b] = byte(i.Lines >> (8 * b))
	}
	crc.Write(lines[:])
	if i.Prepend {
		crc.Write([]byte{1})
	}
	return crc.Sum32()
}

// New creates a journal handle for a table directory path.
func New(path string) *Journal {
	return &Journal{path: path}
}

// Begin durably records an intent before the first column file is touched.
// prepend marks operations writing at the head of the column files.
func (j *Journal) Begin(op string, lines int, prepend bool, columns []string) error {
	intent := Intent{
		Op:        op,
		Lines:     lines,
		Prepend:   prepend,
		Columns:   columns,
		Timestamp: time.Now().UnixNano(),
	}
	intent.Checksum = intent.sum()

	raw, err := json.Marshal(&intent)
	if err != nil {
		return dberr.NewInternal("encode journal intent", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "open journal", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "write journal intent", err)
	}
	if err := f.Sync(); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "sync journal", err)
	}
	return nil
}

// Commit clears the intent after every column file has been written.
func (j *Journal) Commit() error {
	if err := os.Truncate(j.path, 0); err != nil && !os.IsNotExist(err) {
		return dberr.NewStorage(dberr.CodeWriteFailed, "clear journal", err)
	}
	return nil
}

// Pending returns the uncommitted intent left by a crash, or nil when the
// journal is clean. A torn or checksum-mismatched record counts as clean:
// the intent never fully hit disk, so the operation never started.
func (j *Journal) Pending() (*Intent, error) {
	raw, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read journal", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, nil
	}
	if intent.Checksum != intent.sum() {
		return nil, nil
	}
	return &intent, nil
}

// Resizer is the slice of the column store recovery needs: tail-side and
// head-side realignment.
type Resizer interface {
	Resize(path string, n int) error
	ResizeHead(path string, n int) error
}

// Recover repairs a table after a crash: if an intent is pending, every
// recorded column is padded or truncated back to the pre-operation line
// count, then the journal is cleared. Prepend intents trim from the head,
// where the torn write landed; everything else trims from the tail.
// Returns the repaired intent, or nil when nothing was pending.
func (j *Journal) Recover(store Resizer) (*Intent, error) {
	intent, err := j.Pending()
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, nil
	}
	for _, col := range intent.Columns {
		if intent.Prepend {
			err = store.ResizeHead(col, intent.Lines)
		} else {
			err = store.Resize(col, intent.Lines)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := j.Commit(); err != nil {
		return nil, err
	}
	return intent, nil
}
