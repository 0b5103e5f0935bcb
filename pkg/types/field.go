// Package types provides core data types for the Stratum engine: the
// schema field tree, table configuration, and record documents.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldType identifies the kind of value a field holds.
type FieldType string

const (
	// Scalar types. Each leaf field of one of these types is backed by
	// exactly one column file.
	TypeString   FieldType = "string"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"
	TypePassword FieldType = "password"

	// TypeTable is a relationship field: the cell holds the referenced
	// row's external (obfuscated) ID.
	TypeTable FieldType = "table"

	// Structural types. These never map to a column file themselves;
	// their leaves do.
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// Scalar reports whether the type maps directly to a single column value.
func (t FieldType) Scalar() bool {
	switch t {
	case TypeObject, TypeArray:
		return false
	}
	return t.Valid()
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeDate, TypePassword,
		TypeTable, TypeObject, TypeArray:
		return true
	}
	return false
}

// Unique expresses a field's uniqueness constraint: a plain boolean for
// per-column uniqueness, or a group name tying several fields into one
// composite unique key.
type Unique struct {
	Single bool
	Group  string
}

// IsZero reports whether no uniqueness constraint is set.
func (u Unique) IsZero() bool { return !u.Single && u.Group == "" }

func (u Unique) MarshalJSON() ([]byte, error) {
	if u.Group != "" {
		return json.Marshal(u.Group)
	}
	return json.Marshal(u.Single)
}

func (u *Unique) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*u = Unique{Single: b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*u = Unique{Group: s}
		return nil
	}
	return fmt.Errorf("unique: expected bool or group name, got %s", data)
}

// Field describes one node of a table schema. Leaf fields map to exactly
// one column file whose path is the dot-joined key chain from the root.
type Field struct {
	// ID is the obfuscated field identifier. It is assigned when the
	// schema is first persisted and stays stable across schema edits, so
	// a renamed field can be told apart from a new one.
	ID string

	Key      string
	Type     FieldType
	Required bool
	Unique   Unique

	// Regex constrains string fields to a full match.
	Regex string

	// Table names the referenced table for relationship fields.
	Table string

	// Children holds the sub-schema for object fields.
	Children []Field

	// Items describes array element shapes. Nil for non-array fields.
	Items *ArrayItems
}

// ArrayItems is the tagged variant for array children. Exactly one arm is
// set.
type ArrayItems struct {
	// Structured: every element is a record validated against this
	// sub-schema.
	Structured []Field
	// Of: every element is a scalar of this single type.
	Of FieldType
	// OneOf: every element is a scalar of one of these types.
	OneOf []FieldType
}

// fieldJSON is the wire form of a Field in the schema descriptor. The
// children key carries the union: a sub-schema, a type tag, or a list of
// type tags.
type fieldJSON struct {
	ID       string          `json:"id,omitempty"`
	Key      string          `json:"key"`
	Type     FieldType       `json:"type"`
	Required bool            `json:"required,omitempty"`
	Unique   *Unique         `json:"unique,omitempty"`
	Regex    string          `json:"regex,omitempty"`
	Table    string          `json:"table,omitempty"`
	Children json.RawMessage `json:"children,omitempty"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{
		ID:       f.ID,
		Key:      f.Key,
		Type:     f.Type,
		Required: f.Required,
		Regex:    f.Regex,
		Table:    f.Table,
	}
	if !f.Unique.IsZero() {
		u := f.Unique
		out.Unique = &u
	}

	var children any
	switch {
	case f.Type == TypeObject:
		children = f.Children
	case f.Type == TypeArray && f.Items != nil:
		switch {
		case f.Items.Structured != nil:
			children = f.Items.Structured
		case len(f.Items.OneOf) > 0:
			children = f.Items.OneOf
		default:
			children = f.Items.Of
		}
	}
	if children != nil {
		raw, err := json.Marshal(children)
		if err != nil {
			return nil, err
		}
		out.Children = raw
	}
	return json.Marshal(out)
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.ID = in.ID
	f.Key = in.Key
	f.Type = in.Type
	f.Required = in.Required
	f.Regex = in.Regex
	f.Table = in.Table
	f.Unique = Unique{}
	f.Children = nil
	f.Items = nil
	if in.Unique != nil {
		f.Unique = *in.Unique
	}
	if len(in.Children) == 0 {
		return nil
	}

	switch f.Type {
	case TypeObject:
		return json.Unmarshal(in.Children, &f.Children)
	case TypeArray:
		return f.unmarshalItems(in.Children)
	default:
		return fmt.Errorf("field %q: children not allowed on type %q", f.Key, f.Type)
	}
}

func (f *Field) unmarshalItems(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '"':
		var one FieldType
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return err
		}
		f.Items = &ArrayItems{Of: one}
		return nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return err
		}
		if len(elems) > 0 && bytes.TrimSpace(elems[0])[0] == '"' {
			var tags []FieldType
			if err := json.Unmarshal(trimmed, &tags); err != nil {
				return err
			}
			f.Items = &ArrayItems{OneOf: tags}
			return nil
		}
		var sub []Field
		if err := json.Unmarshal(trimmed, &sub); err != nil {
			return err
		}
		f.Items = &ArrayItems{Structured: sub}
		return nil
	default:
		return fmt.Errorf("field %q: children must be a sub-schema, a type tag, or a list of type tags", f.Key)
	}
}
