// Package stratum is an embedded, schema-driven database storing each
// leaf field of a record schema as its own flat column file. Records
// are validated against a recursive schema on every write, rows are
// addressed by obfuscated ID tokens, and queries run as line-aligned
// column scans.
package stratum

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stratumdb/stratum/internal/compare"
	"github.com/stratumdb/stratum/internal/config"
	"github.com/stratumdb/stratum/internal/snapshot"
	"github.com/stratumdb/stratum/internal/table"
	"github.com/stratumdb/stratum/pkg/types"
)

// Re-exported schema and record types.
type (
	Record      = types.Record
	Schema      = types.Schema
	Field       = types.Field
	ArrayItems  = types.ArrayItems
	FieldType   = types.FieldType
	Unique      = types.Unique
	TableConfig = types.TableConfig
	PageInfo    = types.PageInfo
)

// Field types.
const (
	TypeString   = types.TypeString
	TypeInt      = types.TypeInt
	TypeFloat    = types.TypeFloat
	TypeBool     = types.TypeBool
	TypeDate     = types.TypeDate
	TypePassword = types.TypePassword
	TypeTable    = types.TypeTable
	TypeObject   = types.TypeObject
	TypeArray    = types.TypeArray
)

// Reserved column names present on every record.
const (
	ColumnID      = types.ColumnID
	ColumnCreated = types.ColumnCreated
)

// Query types and operators.
type (
	Where        = table.Where
	Cond         = table.Cond
	ReadOptions  = table.ReadOptions
	WriteOptions = table.WriteOptions
	Op           = compare.Op
)

const (
	OpEq          = compare.OpEq
	OpNe          = compare.OpNe
	OpGt          = compare.OpGt
	OpLt          = compare.OpLt
	OpGe          = compare.OpGe
	OpLe          = compare.OpLe
	OpContains    = compare.OpContains
	OpNotContains = compare.OpNotContains
	OpLike        = compare.OpLike
	OpNotLike     = compare.OpNotLike
)

// ByID is the Where form selecting a single record by its ID token.
func ByID(token string) Where { return table.ByID(token) }

// Options configures an opened database. Exactly one of Key or Secret
// must be set.
type Options = table.Options

// Config is the file and environment driven configuration.
type Config = config.Config

// LoadConfig reads a YAML or JSON config file (empty path for defaults),
// applies STRATUM_ environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DB is an open database.
type DB struct {
	*table.Engine
	dir string
}

// Open opens (or initializes) the database directory at dir.
func Open(dir string, opts Options) (*DB, error) {
	eng, err := table.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &DB{Engine: eng, dir: dir}, nil
}

// OpenDatabase opens the named database under cfg.DataDir with the
// configured secret and salt.
func OpenDatabase(cfg *Config, name string, logger *zap.Logger) (*DB, error) {
	return Open(filepath.Join(cfg.DataDir, name), Options{
		Secret: cfg.Secret,
		Salt:   cfg.Salt,
		Logger: logger,
	})
}

// Dir returns the database directory.
func (db *DB) Dir() string { return db.dir }

// Snapshot object storage.
type (
	ObjectStore = snapshot.ObjectStore
	S3Config    = snapshot.S3Config
)

// NewLocalStore returns an ObjectStore on a local directory.
func NewLocalStore(basePath string) (ObjectStore, error) {
	return snapshot.NewLocalStore(basePath)
}

// NewS3Store returns an ObjectStore on an S3 bucket.
func NewS3Store(ctx context.Context, bucket string, cfg S3Config) (ObjectStore, error) {
	return snapshot.NewS3Store(ctx, bucket, cfg)
}

// Export uploads the database directory to the store under prefix. The
// database must be closed, or at least quiesced, first.
func Export(ctx context.Context, store ObjectStore, dbDir, prefix string) (int, error) {
	return snapshot.Export(ctx, store, dbDir, prefix)
}

// Import downloads a snapshot into dbDir.
func Import(ctx context.Context, store ObjectStore, prefix, dbDir string) (int, error) {
	return snapshot.Import(ctx, store, prefix, dbDir)
}
