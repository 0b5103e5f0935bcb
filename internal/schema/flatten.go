// Package schema flattens nested field trees into column paths and
// validates documents against them. Every read/write path of the engine
// walks a flattened schema to know which column files exist, their types,
// and their constraints.
package schema

import (
	"strings"

	"github.com/stratumdb/stratum/pkg/types"
)

// Column is one flattened leaf of a schema: the dot-joined key chain from
// the root and the leaf field definition backing it.
type Column struct {
	Path  string
	Field types.Field

	// InArray marks columns whose path crosses an array-of-records field.
	// Their cells hold positional element sequences instead of one scalar.
	InArray bool
}

// ScalarArray reports whether the leaf itself is an array of scalars.
func (c Column) ScalarArray() bool {
	return c.Field.Type == types.TypeArray
}

// Flatten returns the ordered leaf columns for a schema. Object fields
// recurse through their children; array-of-records fields recurse through
// their element sub-schema with InArray set; every other field is a leaf.
func Flatten(s types.Schema) []Column {
	var out []Column
	flattenFields(nil, false, s, &out)
	return out
}

func flattenFields(prefix []string, inArray bool, fields []types.Field, out *[]Column) {
	for _, f := range fields {
		chain := make([]string, len(prefix), len(prefix)+1)
		copy(chain, prefix)
		chain = append(chain, f.Key)
		switch {
		case f.Type == types.TypeObject:
			flattenFields(chain, inArray, f.Children, out)
		case f.Type == types.TypeArray && f.Items != nil && f.Items.Structured != nil:
			flattenFields(chain, true, f.Items.Structured, out)
		default:
			*out = append(*out, Column{
				Path:    strings.Join(chain, "."),
				Field:   f,
				InArray: inArray,
			})
		}
	}
}
