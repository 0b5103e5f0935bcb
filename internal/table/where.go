package table

import (
	"strconv"

	"github.com/stratumdb/stratum/internal/compare"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/pkg/types"
)

// Cond pairs an operator with its comparand for query-object clauses.
type Cond struct {
	Op    compare.Op
	Value any
}

// Where selects rows. Nil selects every row. The "id" key matches the
// row's external ID. Any other key is a dot-joined leaf column path whose
// value is either a plain comparand (equality) or a Cond; a path crossing
// an array-of-records field matches when any element satisfies the clause.
type Where map[string]any

// ByID is the Where form for a single external ID.
func ByID(token string) Where {
	return Where{types.ColumnID: token}
}

// matchPositions returns the 1-indexed storage positions satisfying every
// clause of where, in storage order. Writers call it under the table lock;
// relationship resolution calls it lock-free on target tables (see
// lookupByToken), relying on the store's whole-file reads being atomic at
// the rename level.
func (e *Engine) matchPositions(t *table, where Where) ([]int, error) {
	total, err := t.store.LineCount(types.ColumnID)
	if err != nil {
		return nil, err
	}
	positions := make([]int, 0, total)
	for i := 1; i <= total; i++ {
		positions = append(positions, i)
	}
	if len(where) == 0 {
		return positions, nil
	}

	for key, raw := range where {
		if len(positions) == 0 {
			return nil, nil
		}
		op, comparand := compare.OpEq, raw
		if c, ok := raw.(Cond); ok {
			op, comparand = c.Op, c.Value
		}

		if key == types.ColumnID {
			positions, err = e.filterByID(t, positions, op, comparand)
		} else {
			positions, err = e.filterByColumn(t, positions, key, op, comparand)
		}
		if err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// filterByID matches against internal row ids. A token that does not
// decode under this database's key selects nothing: a foreign or garbage
// ID reads as "not found", never as an error.
func (e *Engine) filterByID(t *table, positions []int, op compare.Op, comparand any) ([]int, error) {
	token, ok := comparand.(string)
	if !ok {
		return nil, nil
	}
	want, ok := e.codec.Decode(token)
	if !ok {
		return nil, nil
	}

	cells, err := t.store.ReadAll(types.ColumnID)
	if err != nil {
		return nil, err
	}
	var kept []int
	for _, pos := range positions {
		if pos > len(cells) {
			continue
		}
		id, err := strconv.ParseInt(cells[pos-1], 10, 64)
		if err != nil {
			continue
		}
		match, err := e.eval.Matches(op, id, want, types.TypeInt)
		if err != nil {
			return nil, err
		}
		if match {
			kept = append(kept, pos)
		}
	}
	return kept, nil
}

func (e *Engine) filterByColumn(t *table, positions []int, path string, op compare.Op, comparand any) ([]int, error) {
	col, ok := t.validator.ColumnAt(path)
	if !ok {
		// Unknown paths select nothing; "no data" rather than an error,
		// same as querying a value no row holds.
		return nil, nil
	}
	cells, err := t.store.ReadAll(path)
	if err != nil {
		return nil, err
	}

	var kept []int
	for _, pos := range positions {
		var cell string
		if pos <= len(cells) {
			cell = cells[pos-1]
		}
		value, err := t.validator.DecodeCellValue(col, cell)
		if err != nil {
			return nil, err
		}
		match, err := e.eval.Matches(op, value, comparand, matchType(col))
		if err != nil {
			return nil, err
		}
		if match {
			kept = append(kept, pos)
		}
	}
	return kept, nil
}

// matchType picks the field type driving comparison semantics: the element
// type for arrays of scalars, the leaf type everywhere else.
func matchType(col schema.Column) types.FieldType {
	if col.ScalarArray() && col.Field.Items != nil && col.Field.Items.Of != "" {
		return col.Field.Items.Of
	}
	return col.Field.Type
}
