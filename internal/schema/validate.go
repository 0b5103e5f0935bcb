package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stratumdb/stratum/internal/compare"
	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/internal/idcodec"
	"github.com/stratumdb/stratum/pkg/types"
)

// Validator checks documents against one table's schema and produces the
// normalized record plus the per-column cells the column store persists.
// A validator is immutable after construction and safe for concurrent use.
type Validator struct {
	schema  types.Schema
	columns []Column
	byPath  map[string]Column
	codec   *idcodec.Codec
	regexes map[string]*regexp.Regexp
	groups  map[string][]string
}

// NewValidator compiles a schema into a validator, rejecting malformed
// schemas (unknown types, reserved keys, missing children, broken regex).
func NewValidator(s types.Schema, codec *idcodec.Codec) (*Validator, error) {
	v := &Validator{
		schema:  s,
		codec:   codec,
		byPath:  make(map[string]Column),
		regexes: make(map[string]*regexp.Regexp),
		groups:  make(map[string][]string),
	}
	if err := checkSchema(nil, s); err != nil {
		return nil, err
	}
	v.columns = Flatten(s)
	for _, col := range v.columns {
		v.byPath[col.Path] = col
		if col.Field.Regex != "" {
			re, err := regexp.Compile("^(?:" + col.Field.Regex + ")$")
			if err != nil {
				return nil, dberr.NewValidation(dberr.CodeInvalidSchema, col.Path,
					"regex does not compile: "+err.Error())
			}
			v.regexes[col.Path] = re
		}
		if g := col.Field.Unique.Group; g != "" {
			v.groups[g] = append(v.groups[g], col.Path)
		}
	}
	return v, nil
}

// Schema returns the schema the validator was built from.
func (v *Validator) Schema() types.Schema { return v.schema }

// Columns returns the flattened leaf columns in schema order.
func (v *Validator) Columns() []Column { return v.columns }

// ColumnAt returns the column for a dot-joined leaf path.
func (v *Validator) ColumnAt(path string) (Column, bool) {
	col, ok := v.byPath[path]
	return col, ok
}

func checkSchema(prefix []string, fields []types.Field) error {
	for _, f := range fields {
		path := strings.Join(append(prefix, f.Key), ".")
		if f.Key == "" {
			return dberr.NewValidation(dberr.CodeInvalidSchema, path, "field key must not be empty")
		}
		if len(prefix) == 0 && (f.Key == types.ColumnID || f.Key == types.ColumnCreated) {
			return dberr.NewValidation(dberr.CodeInvalidSchema, path,
				"field key is reserved for the engine")
		}
		if !f.Type.Valid() {
			return dberr.NewValidation(dberr.CodeInvalidSchema, path,
				fmt.Sprintf("unknown field type %q", f.Type))
		}
		switch f.Type {
		case types.TypeObject:
			if len(f.Children) == 0 {
				return dberr.NewValidation(dberr.CodeInvalidSchema, path,
					"object field needs children")
			}
			if err := checkSchema(append(prefix, f.Key), f.Children); err != nil {
				return err
			}
		case types.TypeArray:
			if f.Items == nil {
				return dberr.NewValidation(dberr.CodeInvalidSchema, path,
					"array field needs children")
			}
			if f.Items.Structured != nil {
				if err := checkSchema(append(prefix, f.Key), f.Items.Structured); err != nil {
					return err
				}
			} else if f.Items.Of != "" {
				if !f.Items.Of.Scalar() {
					return dberr.NewValidation(dberr.CodeInvalidSchema, path,
						"array element tag must be a scalar type")
				}
			} else {
				for _, t := range f.Items.OneOf {
					if !t.Scalar() {
						return dberr.NewValidation(dberr.CodeInvalidSchema, path,
							"array element tags must be scalar types")
					}
				}
			}
		case types.TypeTable:
			if f.Table == "" {
				return dberr.NewValidation(dberr.CodeInvalidSchema, path,
					"relationship field needs a target table")
			}
		}
	}
	return nil
}

// Normalized is a validated document: the typed record the caller sees and
// the per-column cells the column store writes.
type Normalized struct {
	Record types.Record
	Cells  map[string]string
}

// Validate checks doc against the schema and returns its normalized form,
// or a validation error naming the offending field path. Unknown keys are
// dropped. Uniqueness is checked separately (CheckUnique) because it needs
// the stored rows.
func (v *Validator) Validate(doc types.Record) (*Normalized, error) {
	rec, err := v.normalizeFields(nil, v.schema, doc)
	if err != nil {
		return nil, err
	}
	cells, err := v.CellsFor(rec)
	if err != nil {
		return nil, err
	}
	return &Normalized{Record: rec, Cells: cells}, nil
}

func (v *Validator) normalizeFields(prefix []string, fields []types.Field, doc types.Record) (types.Record, error) {
	out := types.Record{}
	for _, f := range fields {
		chain := append(append([]string(nil), prefix...), f.Key)
		path := strings.Join(chain, ".")

		val, present := doc[f.Key]
		if !present || compare.IsNull(val) {
			if f.Required {
				return nil, dberr.NewValidation(dberr.CodeFieldRequired, path,
					"missing required field")
			}
			continue
		}

		switch f.Type {
		case types.TypeObject:
			sub, ok := val.(map[string]any)
			if !ok {
				return nil, typeErr(path, "object", val)
			}
			child, err := v.normalizeFields(chain, f.Children, sub)
			if err != nil {
				return nil, err
			}
			out[f.Key] = child

		case types.TypeArray:
			norm, err := v.normalizeArray(chain, path, f, val)
			if err != nil {
				return nil, err
			}
			out[f.Key] = norm

		default:
			norm, err := v.coerceLeaf(f, path, val)
			if err != nil {
				return nil, err
			}
			out[f.Key] = norm
		}
	}
	return out, nil
}

func (v *Validator) normalizeArray(chain []string, path string, f types.Field, val any) (any, error) {
	elems, ok := toAnySlice(val)
	if !ok {
		return nil, typeErr(path, "array", val)
	}

	switch {
	case f.Items.Structured != nil:
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			sub, ok := el.(map[string]any)
			if !ok {
				return nil, typeErr(path, "array of records", el)
			}
			rec, err := v.normalizeFields(chain, f.Items.Structured, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, any(rec))
		}
		return out, nil

	case f.Items.Of != "":
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			leaf := f
			leaf.Type = f.Items.Of
			norm, err := v.coerceLeaf(leaf, path, el)
			if err != nil {
				return nil, err
			}
			out = append(out, norm)
		}
		return out, nil

	default:
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			norm, err := v.coerceOneOf(f, path, el)
			if err != nil {
				return nil, err
			}
			out = append(out, norm)
		}
		return out, nil
	}
}

func (v *Validator) coerceOneOf(f types.Field, path string, val any) (any, error) {
	for _, t := range f.Items.OneOf {
		leaf := f
		leaf.Type = t
		leaf.Regex = ""
		if norm, err := v.coerceLeaf(leaf, path, val); err == nil {
			return norm, nil
		}
	}
	return nil, typeErr(path, fmt.Sprintf("one of %v", f.Items.OneOf), val)
}

// coerceLeaf normalizes a scalar value to its storage form. Coercion is
// permitted only where unambiguous (numeric strings, 0/1 booleans, unix
// timestamps); everything else is a type error.
func (v *Validator) coerceLeaf(f types.Field, path string, val any) (any, error) {
	switch f.Type {
	case types.TypeString:
		s, ok := val.(string)
		if !ok {
			return nil, typeErr(path, "string", val)
		}
		if re := v.regexes[path]; re != nil && !re.MatchString(s) {
			return nil, dberr.NewValidation(dberr.CodeInvalidRegexMatch, path,
				fmt.Sprintf("value does not match /%s/", f.Regex))
		}
		return s, nil

	case types.TypeInt:
		n, ok := toInt64(val)
		if !ok {
			return nil, typeErr(path, "int", val)
		}
		return n, nil

	case types.TypeFloat:
		fl, ok := toFloat64(val)
		if !ok {
			return nil, typeErr(path, "float", val)
		}
		return fl, nil

	case types.TypeBool:
		b, ok := toBool(val)
		if !ok {
			return nil, typeErr(path, "bool", val)
		}
		return b, nil

	case types.TypeDate:
		s, ok := normalizeTime(val)
		if !ok {
			return nil, typeErr(path, "date", val)
		}
		return s, nil

	case types.TypePassword:
		s, ok := val.(string)
		if !ok {
			return nil, typeErr(path, "password", val)
		}
		// Already-hashed values pass through so re-validating a stored
		// record stays idempotent.
		if compare.IsHashed(s) {
			return s, nil
		}
		hash, err := compare.HashPassword(s)
		if err != nil {
			return nil, dberr.NewInternal("hash password", err)
		}
		return hash, nil

	case types.TypeTable:
		s, ok := val.(string)
		if !ok {
			return nil, typeErr(path, "row id", val)
		}
		if _, decodable := v.codec.Decode(s); !decodable {
			return nil, typeErr(path, "row id", val)
		}
		return s, nil
	}
	return nil, typeErr(path, string(f.Type), val)
}

func typeErr(path, want string, got any) *dberr.Error {
	return dberr.NewValidation(dberr.CodeInvalidType, path,
		fmt.Sprintf("expected %s, got %T", want, got))
}

func toAnySlice(v any) ([]any, bool) {
	switch vv := v.(type) {
	case []any:
		return vv, true
	case []types.Record:
		out := make([]any, len(vv))
		for i, r := range vv {
			out[i] = r
		}
		return out, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float32:
		if float32(int64(n)) == n {
			return int64(n), true
		}
	case float64:
		if float64(int64(n)) == n {
			return int64(n), true
		}
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int:
		if b == 0 || b == 1 {
			return b == 1, true
		}
	case int64:
		if b == 0 || b == 1 {
			return b == 1, true
		}
	case float64:
		if b == 0 || b == 1 {
			return b == 1, true
		}
	case string:
		switch b {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}
