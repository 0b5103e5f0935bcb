package schema

import (
	"strings"

	"github.com/stratumdb/stratum/pkg/types"
)

// CellsFor flattens a normalized record into its per-column cell strings.
// Every leaf column gets a cell, absent values included, so one call always
// produces a full storage line for the row.
func (v *Validator) CellsFor(rec types.Record) (map[string]string, error) {
	cells := make(map[string]string, len(v.columns))
	for _, col := range v.columns {
		val := extract(rec, strings.Split(col.Path, "."))
		cell, err := encodeCell(col, val)
		if err != nil {
			return nil, err
		}
		cells[col.Path] = cell
	}
	return cells, nil
}

// extract walks a normalized record down a key chain. Crossing an
// array-of-records level maps the remaining chain over every element, so a
// leaf under one array level yields a flat sequence and nested array levels
// yield nested sequences, null placeholders included.
func extract(node any, path []string) any {
	if node == nil {
		return nil
	}
	if seq, ok := toAnySlice(node); ok && len(path) > 0 {
		out := make([]any, len(seq))
		for i, el := range seq {
			out[i] = extract(el, path)
		}
		return out
	}
	if len(path) == 0 {
		return node
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	return extract(m[path[0]], path[1:])
}

func encodeCell(col Column, val any) (string, error) {
	if val == nil {
		return "", nil
	}
	if col.InArray || col.ScalarArray() {
		seq, ok := toAnySlice(val)
		if !ok {
			seq = []any{val}
		}
		return EncodeSequence(seq)
	}
	return EncodeScalar(val, col.Field.Type), nil
}

// DecodeCellValue parses one stored cell back into its normalized value:
// nil for the empty cell, a scalar, or an element sequence for array
// columns.
func (v *Validator) DecodeCellValue(col Column, cell string) (any, error) {
	if cell == "" {
		return nil, nil
	}
	if col.InArray || col.ScalarArray() {
		seq, err := DecodeSequence(cell)
		if err != nil {
			return nil, err
		}
		return coerceDecoded(col, seq), nil
	}
	return DecodeScalar(cell, col.Field.Type)
}

// coerceDecoded fixes up JSON decoding artifacts in sequence cells (every
// JSON number arrives as float64) according to the leaf's element type.
func coerceDecoded(col Column, val any) any {
	switch vv := val.(type) {
	case []any:
		for i, el := range vv {
			vv[i] = coerceDecoded(col, el)
		}
		return vv
	case float64:
		t := col.Field.Type
		if col.ScalarArray() && col.Field.Items != nil && col.Field.Items.Of != "" {
			t = col.Field.Items.Of
		}
		if t == types.TypeInt && float64(int64(vv)) == vv {
			return int64(vv)
		}
		return vv
	default:
		return val
	}
}

// RecordFromCells rebuilds the nested record for one row from its stored
// cells. Sibling sequence columns under an array field are zipped back
// into element records positionally; null placeholders drop back out as
// absent optional children.
func (v *Validator) RecordFromCells(cells map[string]string) (types.Record, error) {
	var firstErr error
	get := func(rel []string) any {
		path := strings.Join(rel, ".")
		col, ok := v.byPath[path]
		if !ok {
			return nil
		}
		val, err := v.DecodeCellValue(col, cells[path])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return val
	}
	rec := buildRecord(v.schema, nil, get)
	if firstErr != nil {
		return nil, firstErr
	}
	return rec, nil
}

// buildRecord assembles a record level. get resolves a relative leaf path
// to its decoded value at the current array narrowing.
func buildRecord(fields []types.Field, prefix []string, get func(rel []string) any) types.Record {
	out := types.Record{}
	for _, f := range fields {
		chain := append(append([]string(nil), prefix...), f.Key)
		switch {
		case f.Type == types.TypeObject:
			child := buildRecord(f.Children, chain, get)
			if len(child) > 0 {
				out[f.Key] = child
			}

		case f.Type == types.TypeArray && f.Items != nil && f.Items.Structured != nil:
			elems := buildElements(f.Items.Structured, chain, get)
			if elems != nil {
				out[f.Key] = elems
			}

		default:
			if val := get(chain); val != nil {
				out[f.Key] = val
			}
		}
	}
	return out
}

// buildElements zips the sequence cells of every leaf under an array field
// back into per-element records.
func buildElements(sub []types.Field, chain []string, get func(rel []string) any) []any {
	leaves := relativeLeaves(sub)
	n := -1
	for _, leaf := range leaves {
		if seq, ok := get(append(chain, leaf...)).([]any); ok {
			if len(seq) > n {
				n = len(seq)
			}
		}
	}
	if n < 0 {
		return nil
	}

	elems := make([]any, 0, n)
	for i := 0; i < n; i++ {
		narrowed := func(rel []string) any {
			seq, ok := get(append(chain, rel...)).([]any)
			if !ok || i >= len(seq) {
				return nil
			}
			return seq[i]
		}
		elems = append(elems, any(buildRecord(sub, nil, narrowed)))
	}
	return elems
}

// relativeLeaves lists every leaf path of a sub-schema relative to its
// root.
func relativeLeaves(fields []types.Field) [][]string {
	var out [][]string
	var walk func(prefix []string, fs []types.Field)
	walk = func(prefix []string, fs []types.Field) {
		for _, f := range fs {
			chain := append(append([]string(nil), prefix...), f.Key)
			switch {
			case f.Type == types.TypeObject:
				walk(chain, f.Children)
			case f.Type == types.TypeArray && f.Items != nil && f.Items.Structured != nil:
				walk(chain, f.Items.Structured)
			default:
				out = append(out, chain)
			}
		}
	}
	walk(nil, fields)
	return out
}
