package schema

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/pkg/types"
)

// Cell encoding. Every column file stores one cell per line, so scalar
// string cells escape the characters that would break line addressing.
// Array cells (array-of-scalars leaves and columns crossing an
// array-of-records field) are JSON sequences: JSON never emits a raw
// newline and null marks an element that omitted an optional child,
// keeping sibling columns positionally aligned.

// EncodeScalar serializes a normalized scalar value into its cell form.
// Nil becomes the empty cell.
func EncodeScalar(v any, t types.FieldType) string {
	if v == nil {
		return ""
	}
	switch t {
	case types.TypeInt:
		return strconv.FormatInt(cast.ToInt64(v), 10)
	case types.TypeFloat:
		return strconv.FormatFloat(cast.ToFloat64(v), 'g', -1, 64)
	case types.TypeBool:
		if cast.ToBool(v) {
			return "1"
		}
		return "0"
	default:
		return escape(cast.ToString(v))
	}
}

// DecodeScalar parses a cell back into its normalized value. The empty
// cell decodes to nil.
func DecodeScalar(cell string, t types.FieldType) (any, error) {
	if cell == "" {
		return nil, nil
	}
	switch t {
	case types.TypeInt:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil, dberr.NewStorage(dberr.CodeReadFailed, "corrupt int cell", err)
		}
		return n, nil
	case types.TypeFloat:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, dberr.NewStorage(dberr.CodeReadFailed, "corrupt float cell", err)
		}
		return f, nil
	case types.TypeBool:
		return cell == "1", nil
	default:
		return unescape(cell), nil
	}
}

// EncodeSequence serializes an element sequence (including nested
// sequences from nested array fields) as one cell.
func EncodeSequence(elems []any) (string, error) {
	raw, err := json.Marshal(elems)
	if err != nil {
		return "", dberr.NewStorage(dberr.CodeWriteFailed, "encode sequence cell", err)
	}
	return string(raw), nil
}

// DecodeSequence parses a sequence cell. The empty cell decodes to nil.
func DecodeSequence(cell string) ([]any, error) {
	if cell == "" {
		return nil, nil
	}
	var elems []any
	if err := json.Unmarshal([]byte(cell), &elems); err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "corrupt sequence cell", err)
	}
	return elems, nil
}

func escape(s string) string {
	if !strings.ContainsAny(s, "\\\n\r") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	esc := false
	for _, r := range s {
		if !esc {
			if r == '\\' {
				esc = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case 'n':
			b.WriteRune('\n')
		case 'r':
			b.WriteRune('\r')
		default:
			b.WriteRune(r)
		}
		esc = false
	}
	return b.String()
}

// normalizeTime coerces the accepted date inputs (time.Time, RFC3339
// string, unix seconds) into the canonical stored form.
func normalizeTime(v any) (string, bool) {
	switch vv := v.(type) {
	case time.Time:
		return vv.UTC().Format(time.RFC3339), true
	case string:
		if t, err := time.Parse(time.RFC3339, vv); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
		return "", false
	case int, int32, int64, float64:
		return time.Unix(cast.ToInt64(v), 0).UTC().Format(time.RFC3339), true
	default:
		return "", false
	}
}
