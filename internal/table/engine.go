// Package table implements the engine orchestrating CRUD across the
// schema validator, the column store, the catalog, and the ID codec.
// One engine owns one database directory; mutations on a table are
// serialized by a per-table lock, matching the single-logical-writer
// storage model.
package table

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/stratumdb/stratum/internal/catalog"
	"github.com/stratumdb/stratum/internal/column"
	"github.com/stratumdb/stratum/internal/compare"
	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/internal/idcodec"
	"github.com/stratumdb/stratum/internal/journal"
	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/pkg/types"
)

// SchemaFileName is the schema descriptor inside a table directory.
const SchemaFileName = "schema.json"

// Options configures an engine. Exactly one of Key or Secret must be set.
type Options struct {
	// Key is a raw 32-byte codec key.
	Key []byte

	// Secret and Salt derive the codec key through the memory-hard KDF
	// when no raw key is given.
	Secret string
	Salt   string

	// KeyCache shares derived keys across engines. A private cache is
	// created when nil.
	KeyCache *idcodec.KeyCache

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Engine is the database handle.
type Engine struct {
	dir     string
	catalog *catalog.Catalog
	codec   *idcodec.Codec
	eval    *compare.Evaluator
	log     *zap.Logger

	mu     sync.Mutex
	tables map[string]*table
}

// table is the in-memory handle for one table directory.
type table struct {
	mu        sync.Mutex
	name      string
	dir       string
	config    types.TableConfig
	version   int
	validator *schema.Validator
	store     *column.Store
	journal   *journal.Journal
}

// Open opens (or initializes) the database at dir, recovering any table
// left misaligned by a crash.
func Open(dir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, dberr.NewStorage(dberr.CodeWriteFailed, "create database directory", err)
	}

	codec, err := codecFor(opts)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(filepath.Join(dir, catalog.FileName))
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		dir:     dir,
		catalog: cat,
		codec:   codec,
		eval:    compare.NewEvaluator(),
		log:     log,
		tables:  make(map[string]*table),
	}

	names, err := cat.List(context.Background())
	if err != nil {
		cat.Close()
		return nil, err
	}
	for _, name := range names {
		if err := e.loadTable(context.Background(), name); err != nil {
			cat.Close()
			return nil, err
		}
	}
	return e, nil
}

func codecFor(opts Options) (*idcodec.Codec, error) {
	if opts.Key != nil {
		return idcodec.New(opts.Key)
	}
	if opts.Secret == "" {
		return nil, errors.New("table: either Key or Secret must be configured")
	}
	cache := opts.KeyCache
	if cache == nil {
		cache = idcodec.NewKeyCache()
	}
	return idcodec.NewFromSecret(opts.Secret, opts.Salt, cache)
}

// Close releases the catalog connection.
func (e *Engine) Close() error {
	return e.catalog.Close()
}

// Tables lists the tables in creation order.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	return e.catalog.List(ctx)
}

// PageInfo returns the pagination metadata for a table.
func (e *Engine) PageInfo(ctx context.Context, name string) (types.PageInfo, error) {
	rec, err := e.catalog.Get(ctx, name)
	if err != nil {
		return types.PageInfo{}, err
	}
	return types.PageInfo{Total: rec.RowCount}, nil
}

func (e *Engine) table(name string) (*table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[name]
	if !ok {
		return nil, dberr.NewTable(dberr.CodeTableNotFound, fmt.Sprintf("table %q does not exist", name))
	}
	return t, nil
}

func (e *Engine) loadTable(ctx context.Context, name string) error {
	rec, err := e.catalog.Get(ctx, name)
	if err != nil {
		return err
	}

	tdir := filepath.Join(e.dir, name)
	desc, err := readDescriptor(tdir)
	if err != nil {
		return err
	}
	validator, err := schema.NewValidator(desc.Fields, e.codec)
	if err != nil {
		return err
	}
	store, err := column.Open(tdir, rec.Config.Compression)
	if err != nil {
		return err
	}

	t := &table{
		name:      name,
		dir:       tdir,
		config:    rec.Config,
		version:   desc.Version,
		validator: validator,
		store:     store,
		journal:   journal.New(filepath.Join(tdir, journal.FileName)),
	}

	intent, err := t.journal.Recover(store)
	if err != nil {
		return err
	}
	if intent != nil {
		e.log.Warn("repaired misaligned table after crash",
			zap.String("table", name),
			zap.String("op", intent.Op),
			zap.Int("lines", intent.Lines))
		if err := e.catalog.SetRowCount(ctx, name, int64(intent.Lines)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.tables[name] = t
	e.mu.Unlock()
	return nil
}

// CreateTable registers a table, assigns field ids, writes the schema
// descriptor, and creates one empty column file per leaf path. Fails when
// the table already exists.
func (e *Engine) CreateTable(ctx context.Context, name string, s types.Schema, cfg *types.TableConfig) error {
	if name == "" {
		return dberr.NewTable(dberr.CodeTableNotFound, "table name must not be empty")
	}
	config := types.TableConfig{}
	if cfg != nil {
		config = *cfg
	}

	s = s.Clone()
	schema.AssignFieldIDs(s, e.codec)
	validator, err := schema.NewValidator(s, e.codec)
	if err != nil {
		return err
	}

	if err := e.catalog.CreateTable(ctx, name, config); err != nil {
		return err
	}

	tdir := filepath.Join(e.dir, name)
	if err := writeDescriptor(tdir, &types.Descriptor{Version: 1, Fields: s}); err != nil {
		return err
	}
	store, err := column.Open(tdir, config.Compression)
	if err != nil {
		return err
	}
	t := &table{
		name:      name,
		dir:       tdir,
		config:    config,
		version:   1,
		validator: validator,
		store:     store,
		journal:   journal.New(filepath.Join(tdir, journal.FileName)),
	}
	if err := store.Create(t.allPaths()); err != nil {
		return err
	}

	e.mu.Lock()
	e.tables[name] = t
	e.mu.Unlock()

	e.log.Info("created table", zap.String("table", name), zap.Int("columns", len(validator.Columns())))
	return nil
}

// allPaths returns the engine-managed columns followed by the schema's
// leaf columns.
func (t *table) allPaths() []string {
	cols := t.validator.Columns()
	out := make([]string, 0, len(cols)+2)
	out = append(out, types.ColumnID, types.ColumnCreated)
	for _, c := range cols {
		out = append(out, c.Path)
	}
	return out
}

func readDescriptor(tdir string) (*types.Descriptor, error) {
	raw, err := os.ReadFile(filepath.Join(tdir, SchemaFileName))
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read schema descriptor", err)
	}
	desc, err := types.DecodeDescriptor(raw)
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "parse schema descriptor", err)
	}
	return desc, nil
}

func writeDescriptor(tdir string, desc *types.Descriptor) error {
	if err := os.MkdirAll(tdir, 0755); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "create table directory", err)
	}
	raw, err := types.EncodeDescriptor(desc)
	if err != nil {
		return dberr.NewInternal("encode schema descriptor", err)
	}
	tmp := filepath.Join(tdir, "."+SchemaFileName+".tmp")
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "write schema descriptor", err)
	}
	if err := os.Rename(tmp, filepath.Join(tdir, SchemaFileName)); err != nil {
		os.Remove(tmp)
		return dberr.NewStorage(dberr.CodeWriteFailed, "replace schema descriptor", err)
	}
	return nil
}
