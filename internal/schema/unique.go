package schema

import (
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/stratumdb/stratum/internal/dberr"
)

// ExistingRows supplies stored cell values for uniqueness checks without
// coupling the validator to the column store.
type ExistingRows interface {
	// Column returns the cell at every storage position of a leaf path, in
	// storage order.
	Column(path string) ([]string, error)
}

// CheckUnique validates a batch of normalized rows against the stored rows
// and against each other. skip holds zero-based offsets into the stored
// columns that are exempt (the rows an update is about to replace).
// Single-field checks and composite group checks are independent: a field
// can participate in both.
func (v *Validator) CheckUnique(batch []*Normalized, existing ExistingRows, skip map[int]bool) error {
	for _, col := range v.columns {
		if !col.Field.Unique.Single {
			continue
		}
		stored, err := existing.Column(col.Path)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(stored))
		for pos, cell := range stored {
			if cell == "" || skip[pos] {
				continue
			}
			seen[cell] = true
		}
		for _, row := range batch {
			cell := row.Cells[col.Path]
			if cell == "" {
				continue
			}
			if seen[cell] {
				return dberr.NewValidation(dberr.CodeFieldUnique, col.Path,
					"duplicate value for unique field")
			}
			seen[cell] = true
		}
	}

	for group, paths := range v.groups {
		stored := make([][]string, len(paths))
		for i, path := range paths {
			cells, err := existing.Column(path)
			if err != nil {
				return err
			}
			stored[i] = cells
		}

		seen := make(map[uint64]bool)
		if len(stored) > 0 {
			for pos := range stored[0] {
				if skip[pos] {
					continue
				}
				parts := make([]string, len(paths))
				empty := true
				for i := range paths {
					if pos < len(stored[i]) {
						parts[i] = stored[i][pos]
					}
					if parts[i] != "" {
						empty = false
					}
				}
				if !empty {
					seen[groupFingerprint(parts)] = true
				}
			}
		}

		for _, row := range batch {
			parts := make([]string, len(paths))
			empty := true
			for i, path := range paths {
				parts[i] = row.Cells[path]
				if parts[i] != "" {
					empty = false
				}
			}
			if empty {
				continue
			}
			fp := groupFingerprint(parts)
			if seen[fp] {
				return dberr.NewValidation(dberr.CodeGroupUnique, strings.Join(paths, "+"),
					"duplicate combination for unique group "+group)
			}
			seen[fp] = true
		}
	}
	return nil
}

// groupFingerprint condenses a composite key into a 64-bit hash. Members
// are separated by a unit separator so ("ab","c") and ("a","bc") cannot
// collide by concatenation.
func groupFingerprint(parts []string) uint64 {
	h := murmur3.New64()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return h.Sum64()
}
