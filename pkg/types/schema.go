package types

import "encoding/json"

// Schema is the ordered field sequence defining one table.
type Schema []Field

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for i, f := range s {
		out[i] = cloneField(f)
	}
	return out
}

func cloneField(f Field) Field {
	cp := f
	if f.Children != nil {
		cp.Children = make([]Field, len(f.Children))
		for i, c := range f.Children {
			cp.Children[i] = cloneField(c)
		}
	}
	if f.Items != nil {
		items := *f.Items
		if f.Items.Structured != nil {
			items.Structured = make([]Field, len(f.Items.Structured))
			for i, c := range f.Items.Structured {
				items.Structured[i] = cloneField(c)
			}
		}
		if f.Items.OneOf != nil {
			items.OneOf = append([]FieldType(nil), f.Items.OneOf...)
		}
		cp.Items = &items
	}
	return cp
}

// Descriptor is the persisted schema descriptor for a table.
type Descriptor struct {
	// Version increments on every schema change.
	Version int `json:"version"`

	// Fields is the table schema.
	Fields Schema `json:"fields"`
}

// EncodeDescriptor serializes a descriptor for the schema file.
func EncodeDescriptor(d *Descriptor) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// DecodeDescriptor parses a schema descriptor file.
func DecodeDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
