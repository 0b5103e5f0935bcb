// Package compare implements the query operator semantics shared by the
// table engine's read, update and delete paths.
package compare

import (
	"errors"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/crypto/bcrypt"

	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/pkg/types"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpGt Op = ">"
	OpLt Op = "<"
	OpGe Op = ">="
	OpLe Op = "<="

	// Array containment: set membership/intersection, never broadcast.
	OpContains    Op = "[]"
	OpNotContains Op = "![]"

	// Wildcard pattern match, % as the wildcard boundary.
	OpLike    Op = "*"
	OpNotLike Op = "!*"
)

// Evaluator applies operators to stored and queried values. It owns the
// compiled-pattern cache; one evaluator is shared per engine.
type Evaluator struct {
	patterns *PatternCache
}

// NewEvaluator creates an evaluator with an empty pattern cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{patterns: NewPatternCache()}
}

// Matches reports whether original (the stored value) satisfies op against
// compared (the queried value) under fieldType semantics.
//
// If either side is an array and op is not a containment operator, the
// comparison broadcasts: it is true when any pairing of elements across the
// two sides satisfies op. Containment operators instead test set
// membership/intersection directly.
func (e *Evaluator) Matches(op Op, original, compared any, fieldType types.FieldType) (bool, error) {
	switch op {
	case OpContains:
		return contains(original, compared, fieldType), nil
	case OpNotContains:
		return !contains(original, compared, fieldType), nil
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpLike, OpNotLike:
		return e.broadcast(op, original, compared, fieldType)
	default:
		return false, dberr.NewQuery(dberr.CodeUnsupportedOperator,
			"unsupported comparison operator "+string(op))
	}
}

// broadcast applies a scalar operator across every pairing of the two
// sides; any satisfied pairing makes the whole comparison true. When both
// sides are arrays and the operator is an ordering, each pairing is tested
// in both orientations, so ([1,2] > [3,4]) holds through the 3 > 1 pairing.
func (e *Evaluator) broadcast(op Op, original, compared any, fieldType types.FieldType) (bool, error) {
	bothArrays := isArray(original) && isArray(compared)
	for _, o := range asSlice(original) {
		for _, c := range asSlice(compared) {
			ok, err := e.scalar(op, o, c, fieldType)
			if err != nil {
				return false, err
			}
			if !ok && bothArrays && isOrdering(op) {
				ok, err = e.scalar(op, c, o, fieldType)
				if err != nil {
					return false, err
				}
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func isOrdering(op Op) bool {
	switch op {
	case OpGt, OpLt, OpGe, OpLe:
		return true
	}
	return false
}

func isArray(v any) bool {
	switch v.(type) {
	case []any, []string:
		return true
	}
	return false
}

func (e *Evaluator) scalar(op Op, original, compared any, fieldType types.FieldType) (bool, error) {
	switch op {
	case OpEq:
		return equal(original, compared, fieldType), nil
	case OpNe:
		return !equal(original, compared, fieldType), nil
	case OpGt, OpLt, OpGe, OpLe:
		return ordered(op, original, compared, fieldType), nil
	case OpLike:
		return e.patterns.Match(cast.ToString(original), cast.ToString(compared)), nil
	case OpNotLike:
		return !e.patterns.Match(cast.ToString(original), cast.ToString(compared)), nil
	}
	return false, dberr.NewQuery(dberr.CodeUnsupportedOperator,
		"unsupported comparison operator "+string(op))
}

// contains tests set intersection between the stored value(s) and the
// queried value(s).
func contains(original, compared any, fieldType types.FieldType) bool {
	elemType := fieldType
	if elemType == types.TypeArray {
		elemType = ""
	}
	for _, c := range asSlice(compared) {
		for _, o := range asSlice(original) {
			if equal(o, c, elemType) {
				return true
			}
		}
	}
	return false
}

// equal is the type-aware equality used by every operator.
func equal(original, compared any, fieldType types.FieldType) bool {
	// Null-like values are mutually equal regardless of type.
	if IsNull(original) || IsNull(compared) {
		return IsNull(original) && IsNull(compared)
	}

	switch fieldType {
	case types.TypePassword:
		return passwordEqual(cast.ToString(original), cast.ToString(compared))
	case types.TypeBool:
		return boolBit(original) == boolBit(compared)
	case types.TypeDate:
		if ot, err := cast.ToTimeE(original); err == nil {
			if ct, err := cast.ToTimeE(compared); err == nil {
				return ot.Equal(ct)
			}
		}
	}

	// Numbers compare numerically even when one side arrives as a string.
	if of, err := toFloat(original); err == nil {
		if cf, err := toFloat(compared); err == nil {
			return of == cf
		}
		return false
	}
	return cast.ToString(original) == cast.ToString(compared)
}

func ordered(op Op, original, compared any, fieldType types.FieldType) bool {
	// Ordering is only defined when both sides are non-null.
	if IsNull(original) || IsNull(compared) {
		return false
	}
	if fieldType == types.TypePassword {
		return false
	}

	var cmp int
	switch {
	case fieldType == types.TypeDate:
		ot, oerr := cast.ToTimeE(original)
		ct, cerr := cast.ToTimeE(compared)
		if oerr != nil || cerr != nil {
			return false
		}
		cmp = ot.Compare(ct)
	default:
		of, oerr := toFloat(original)
		cf, cerr := toFloat(compared)
		if oerr == nil && cerr == nil {
			switch {
			case of < cf:
				cmp = -1
			case of > cf:
				cmp = 1
			}
		} else {
			cmp = strings.Compare(cast.ToString(original), cast.ToString(compared))
		}
	}

	switch op {
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	case OpGe:
		return cmp >= 0
	case OpLe:
		return cmp <= 0
	}
	return false
}

// IsNull reports whether v is a null-like value: nil, or the empty string.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// asSlice wraps scalars in a one-element slice so broadcast code paths can
// treat both sides uniformly.
func asSlice(v any) []any {
	switch vv := v.(type) {
	case nil:
		return []any{nil}
	case []any:
		if len(vv) == 0 {
			return []any{nil}
		}
		return vv
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func boolBit(v any) int {
	if b, err := cast.ToBoolE(v); err == nil {
		if b {
			return 1
		}
		return 0
	}
	if f, err := toFloat(v); err == nil && f != 0 {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, error) {
	switch v.(type) {
	case bool:
		return 0, errNotNumeric
	}
	return cast.ToFloat64E(v)
}

var errNotNumeric = errors.New("not numeric")

// passwordEqual delegates to bcrypt verification: the stored side is the
// hash, the compared side the plaintext. Two identical hashes also match,
// so hash-vs-hash equality (e.g. re-validating a normalized document)
// holds.
func passwordEqual(stored, candidate string) bool {
	if stored == candidate {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
}

// HashPassword hashes a plaintext password for storage. Values already in
// bcrypt form pass through untouched.
func HashPassword(plain string) (string, error) {
	if IsHashed(plain) {
		return plain, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IsHashed reports whether s already looks like a bcrypt hash.
func IsHashed(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
