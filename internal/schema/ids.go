package schema

import (
	"github.com/stratumdb/stratum/internal/idcodec"
	"github.com/stratumdb/stratum/pkg/types"
)

// AssignFieldIDs fills in obfuscated identifiers for every field that
// lacks one, walking the tree depth-first and continuing after the highest
// identifier already assigned. Previously assigned ids are never touched,
// which is what lets a schema edit tell a renamed field (same id) apart
// from a removed-plus-added one (new id).
func AssignFieldIDs(s types.Schema, codec *idcodec.Codec) {
	next := maxAssignedID(s, codec) + 1
	assignIDs(s, codec, &next)
}

func maxAssignedID(fields []types.Field, codec *idcodec.Codec) int64 {
	var max int64
	for i := range fields {
		f := &fields[i]
		if f.ID != "" {
			if id, ok := codec.Decode(f.ID); ok && id > max {
				max = id
			}
		}
		if m := maxAssignedID(childFields(f), codec); m > max {
			max = m
		}
	}
	return max
}

func assignIDs(fields []types.Field, codec *idcodec.Codec, next *int64) {
	for i := range fields {
		f := &fields[i]
		if f.ID == "" {
			f.ID = codec.Encode(*next)
			*next++
		}
		assignIDs(childFields(f), codec, next)
	}
}

func childFields(f *types.Field) []types.Field {
	switch {
	case f.Type == types.TypeObject:
		return f.Children
	case f.Type == types.TypeArray && f.Items != nil:
		return f.Items.Structured
	}
	return nil
}
