package table

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/pkg/types"
)

// UpdateTable migrates a table to a new schema. Leaf fields are matched
// by their assigned field IDs, so a field carried over with a new key is
// a rename of its column file, a field without an ID is a fresh column
// padded to the current row count, and a field no longer present has its
// column removed. The descriptor version is bumped.
func (e *Engine) UpdateTable(ctx context.Context, name string, s types.Schema) error {
	t, err := e.table(name)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s = s.Clone()
	schema.AssignFieldIDs(s, e.codec)
	validator, err := schema.NewValidator(s, e.codec)
	if err != nil {
		return err
	}

	lines, err := t.store.LineCount(types.ColumnID)
	if err != nil {
		return err
	}

	oldPaths := make(map[string]string, len(t.validator.Columns()))
	for _, col := range t.validator.Columns() {
		oldPaths[col.Field.ID] = col.Path
	}

	kept := make(map[string]bool, len(oldPaths))
	for _, col := range validator.Columns() {
		oldPath, ok := oldPaths[col.Field.ID]
		if !ok {
			if err := t.store.AddColumn(col.Path, lines); err != nil {
				return err
			}
			continue
		}
		kept[col.Field.ID] = true
		if oldPath != col.Path {
			if err := t.store.RenameColumn(oldPath, col.Path); err != nil {
				return err
			}
		}
	}
	for id, oldPath := range oldPaths {
		if !kept[id] {
			if err := t.store.RemoveColumn(oldPath); err != nil {
				return err
			}
		}
	}

	t.version++
	if err := writeDescriptor(t.dir, &types.Descriptor{Version: t.version, Fields: s}); err != nil {
		return err
	}
	if err := e.catalog.UpdateConfig(ctx, name, t.config, true); err != nil {
		return err
	}
	t.validator = validator

	e.log.Info("migrated table schema",
		zap.String("table", name),
		zap.Int("version", t.version),
		zap.Int("columns", len(validator.Columns())))
	return nil
}

// UpdateTableConfig switches a table's storage settings. Toggling
// compression rewrites every column file in the new representation.
func (e *Engine) UpdateTableConfig(ctx context.Context, name string, cfg types.TableConfig) error {
	t, err := e.table(name)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cfg.Compression != t.config.Compression {
		if err := t.store.SetCompression(cfg.Compression); err != nil {
			return err
		}
	}
	if err := e.catalog.UpdateConfig(ctx, name, cfg, false); err != nil {
		return err
	}
	t.config = cfg
	return nil
}

// DropTable removes a table, its directory, and its catalog entry.
func (e *Engine) DropTable(ctx context.Context, name string) error {
	t, err := e.table(name)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := e.catalog.Delete(ctx, name); err != nil {
		return err
	}
	if err := os.RemoveAll(t.dir); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.tables, name)
	e.mu.Unlock()

	e.log.Info("dropped table", zap.String("table", name))
	return nil
}
