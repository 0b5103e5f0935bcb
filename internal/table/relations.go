package table

import (
	"context"

	"github.com/stratumdb/stratum/pkg/types"
)

// reference names one table-typed column in one table.
type reference struct {
	table string
	path  string
}

// referencesTo lists every column across the database whose table-typed
// field targets name. Drives cascade deletes.
func (e *Engine) referencesTo(name string) []reference {
	e.mu.Lock()
	defer e.mu.Unlock()

	var refs []reference
	for tname, t := range e.tables {
		for _, col := range t.validator.Columns() {
			if col.Field.Type == types.TypeTable && col.Field.Table == name {
				refs = append(refs, reference{table: tname, path: col.Path})
			}
		}
	}
	return refs
}

// resolveRecord replaces table-typed field values (external ID tokens)
// with the records they point at, recursively. A token that no longer
// resolves is dropped from the record rather than surfaced as an error;
// the visited set breaks reference cycles the same way.
func (e *Engine) resolveRecord(ctx context.Context, fields []types.Field, rec types.Record, visited map[string]bool) error {
	for _, f := range fields {
		val, ok := rec[f.Key]
		if !ok || val == nil {
			continue
		}
		switch f.Type {
		case types.TypeObject:
			if child, ok := val.(map[string]any); ok {
				if err := e.resolveRecord(ctx, f.Children, child, visited); err != nil {
					return err
				}
			}
		case types.TypeArray:
			if f.Items == nil || f.Items.Structured == nil {
				continue
			}
			elements, ok := val.([]any)
			if !ok {
				continue
			}
			for _, el := range elements {
				if child, ok := el.(map[string]any); ok {
					if err := e.resolveRecord(ctx, f.Items.Structured, child, visited); err != nil {
						return err
					}
				}
			}
		case types.TypeTable:
			token, ok := val.(string)
			if !ok {
				delete(rec, f.Key)
				continue
			}
			target, found, err := e.lookupByToken(ctx, f.Table, token, visited)
			if err != nil {
				return err
			}
			if !found {
				delete(rec, f.Key)
				continue
			}
			rec[f.Key] = target
		}
	}
	return nil
}

// lookupByToken fetches one record by external ID for relationship
// resolution. Returns found=false for dangling tokens, missing tables,
// and cycles.
//
// It reads the target table without taking its lock: the caller already
// holds the lock of the table it is resolving from, and a schema may
// reference itself, so locking here would deadlock. Column reads go through
// the store, whose files are replaced atomically by rename, so a lock-free
// read sees a consistent file even while a writer is active.
func (e *Engine) lookupByToken(ctx context.Context, name, token string, visited map[string]bool) (types.Record, bool, error) {
	key := refKey(name, token)
	if visited[key] {
		return nil, false, nil
	}
	visited[key] = true

	t, err := e.table(name)
	if err != nil {
		return nil, false, nil
	}
	positions, err := e.matchPositions(t, ByID(token))
	if err != nil {
		return nil, false, err
	}
	if len(positions) == 0 {
		return nil, false, nil
	}
	recs, err := e.materialize(t, positions[:1])
	if err != nil {
		return nil, false, err
	}
	rec := recs[0]
	if err := e.resolveRecord(ctx, t.validator.Schema(), rec, visited); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}
