package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/pkg/types"
)

// storedRows is an in-memory ExistingRows for validator tests.
type storedRows map[string][]string

func (s storedRows) Column(path string) ([]string, error) {
	return s[path], nil
}

func uniqueSchema() types.Schema {
	return types.Schema{
		{Key: "email", Type: types.TypeString, Unique: types.Unique{Single: true}},
		{Key: "first", Type: types.TypeString, Unique: types.Unique{Group: "fullname"}},
		{Key: "last", Type: types.TypeString, Unique: types.Unique{Group: "fullname"}},
	}
}

func normalizeAll(t *testing.T, v *Validator, docs ...types.Record) []*Normalized {
	t.Helper()
	out := make([]*Normalized, len(docs))
	for i, d := range docs {
		norm, err := v.Validate(d)
		require.NoError(t, err)
		out[i] = norm
	}
	return out
}

func TestCheckUnique_SingleField(t *testing.T) {
	v, err := NewValidator(uniqueSchema(), testCodec(t))
	require.NoError(t, err)

	existing := storedRows{
		"email": {"a@x.io", "b@x.io", ""},
		"first": {"Ada", "Grace", ""},
		"last":  {"Lovelace", "Hopper", ""},
	}

	batch := normalizeAll(t, v, types.Record{"email": "b@x.io"})
	err = v.CheckUnique(batch, existing, nil)
	assert.Equal(t, dberr.CodeFieldUnique, dberr.GetCode(err))
	assert.Equal(t, "email", dberr.GetField(err))

	// Fresh value passes; empty cells never collide with each other.
	batch = normalizeAll(t, v, types.Record{"email": "c@x.io"})
	assert.NoError(t, v.CheckUnique(batch, existing, nil))

	// The row being replaced is exempt.
	batch = normalizeAll(t, v, types.Record{"email": "b@x.io"})
	assert.NoError(t, v.CheckUnique(batch, existing, map[int]bool{1: true}))
}

func TestCheckUnique_CompositeGroup(t *testing.T) {
	v, err := NewValidator(uniqueSchema(), testCodec(t))
	require.NoError(t, err)

	existing := storedRows{
		"email": {"a@x.io", "b@x.io"},
		"first": {"Ada", "Grace"},
		"last":  {"Lovelace", "Hopper"},
	}

	// Duplicating the whole combination trips the group.
	batch := normalizeAll(t, v, types.Record{"email": "c@x.io", "first": "Ada", "last": "Lovelace"})
	err = v.CheckUnique(batch, existing, nil)
	assert.Equal(t, dberr.CodeGroupUnique, dberr.GetCode(err))

	// Duplicating one member alone is fine.
	batch = normalizeAll(t, v, types.Record{"email": "c@x.io", "first": "Ada", "last": "Hopper"})
	assert.NoError(t, v.CheckUnique(batch, existing, nil))
}

func TestCheckUnique_WithinBatch(t *testing.T) {
	v, err := NewValidator(uniqueSchema(), testCodec(t))
	require.NoError(t, err)

	batch := normalizeAll(t, v,
		types.Record{"email": "dup@x.io"},
		types.Record{"email": "dup@x.io"},
	)
	err = v.CheckUnique(batch, storedRows{}, nil)
	assert.Equal(t, dberr.CodeFieldUnique, dberr.GetCode(err))

	batch = normalizeAll(t, v,
		types.Record{"first": "Ada", "last": "Lovelace"},
		types.Record{"first": "Ada", "last": "Lovelace"},
	)
	err = v.CheckUnique(batch, storedRows{}, nil)
	assert.Equal(t, dberr.CodeGroupUnique, dberr.GetCode(err))
}
