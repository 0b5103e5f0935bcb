package table

import (
	"strconv"

	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/pkg/types"
)

// columnSlice reads the cells of one column at the given sorted positions.
// A contiguous window (the pagination path) reads a single line range; in
// uncompressed mode that is a direct seek, not a scan.
func (t *table) columnSlice(path string, positions []int) ([]string, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	first, last := positions[0], positions[len(positions)-1]
	if last-first+1 == len(positions) {
		return t.store.ReadRange(path, first, last)
	}

	all, err := t.store.ReadAll(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(positions))
	for i, pos := range positions {
		if pos <= len(all) {
			out[i] = all[pos-1]
		}
	}
	return out, nil
}

// rowCells reads the full cell map for every given position.
func (t *table) rowCells(positions []int) ([]map[string]string, error) {
	out := make([]map[string]string, len(positions))
	for i := range out {
		out[i] = make(map[string]string)
	}
	for _, path := range t.allPaths() {
		cells, err := t.columnSlice(path, positions)
		if err != nil {
			return nil, err
		}
		for i := range positions {
			if i < len(cells) {
				out[i][path] = cells[i]
			}
		}
	}
	return out, nil
}

// materialize turns storage positions into records, attaching the external
// ID and creation timestamp.
func (e *Engine) materialize(t *table, positions []int) ([]types.Record, error) {
	cellRows, err := t.rowCells(positions)
	if err != nil {
		return nil, err
	}

	out := make([]types.Record, 0, len(cellRows))
	for _, cells := range cellRows {
		rec, err := t.validator.RecordFromCells(cells)
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseInt(cells[types.ColumnID], 10, 64)
		if err != nil {
			return nil, dberr.NewStorage(dberr.CodeReadFailed, "corrupt row id cell", err)
		}
		rec[types.ColumnID] = e.codec.Encode(id)
		if created := cells[types.ColumnCreated]; created != "" {
			rec[types.ColumnCreated] = created
		}
		out = append(out, rec)
	}
	return out, nil
}

// storeRows adapts the column store to the validator's uniqueness lookups.
type storeRows struct {
	t *table
}

func (s storeRows) Column(path string) ([]string, error) {
	return s.t.store.ReadAll(path)
}
