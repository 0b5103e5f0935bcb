package types

// Reserved column names maintained by the engine itself. User schemas may
// not declare root fields with these keys.
const (
	ColumnID      = "id"
	ColumnCreated = "created"
)

// TableConfig holds the per-table storage policies.
type TableConfig struct {
	// Compression stores each column file as a single snappy blob instead
	// of newline-delimited text. Reads and writes then pay O(file size)
	// instead of O(1) per line.
	Compression bool `json:"compression" yaml:"compression"`

	// Prepend inserts new rows as the first storage line of every column
	// file instead of the last. Toggling it affects only later inserts.
	Prepend bool `json:"prepend" yaml:"prepend"`
}

// PageInfo is the externally observable pagination metadata for a table.
type PageInfo struct {
	Total int64 `json:"total"`
}

// Record is a single document as accepted and returned by the engine.
// Nested object fields are nested maps; array-of-record fields are slices
// of Record.
type Record = map[string]any
