package table

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stratumdb/stratum/internal/schema"
	"github.com/stratumdb/stratum/pkg/types"
)

// WriteOptions controls Post behavior.
type WriteOptions struct {
	// ReturnRecords makes Post hand back the stored records with their
	// external IDs and timestamps instead of nil.
	ReturnRecords bool
}

// ReadOptions paginates Get. Zero values read everything.
type ReadOptions struct {
	Page    int // 1-indexed; 0 and 1 are the first page
	PerPage int // 0 disables pagination
}

// Post validates and stores a batch of records. The whole batch is
// rejected when any record fails validation or uniqueness, including
// collisions between batch members. Column writes are guarded by the
// journal so a crash mid-batch is repaired on the next open.
func (e *Engine) Post(ctx context.Context, name string, docs []types.Record, opts *WriteOptions) ([]types.Record, error) {
	t, err := e.table(name)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	norms := make([]*schema.Normalized, len(docs))
	for i, doc := range docs {
		norm, err := t.validator.Validate(doc)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		norms[i] = norm
	}
	if err := t.validator.CheckUnique(norms, storeRows{t}, nil); err != nil {
		return nil, err
	}

	lines, err := t.store.LineCount(types.ColumnID)
	if err != nil {
		return nil, err
	}
	first, err := e.catalog.AllocRowIDs(ctx, name, len(docs))
	if err != nil {
		return nil, err
	}

	paths := t.allPaths()
	if err := t.journal.Begin("post", lines, t.config.Prepend, paths); err != nil {
		return nil, err
	}

	created := time.Now().UTC().Format(time.RFC3339)
	var out []types.Record
	for i, norm := range norms {
		id := first + int64(i)
		cells := make(map[string]string, len(norm.Cells)+2)
		for path, cell := range norm.Cells {
			cells[path] = cell
		}
		cells[types.ColumnID] = strconv.FormatInt(id, 10)
		cells[types.ColumnCreated] = created
		if err := t.store.Insert(paths, cells, t.config.Prepend); err != nil {
			return nil, err
		}
		if opts != nil && opts.ReturnRecords {
			rec := make(types.Record, len(norm.Record)+2)
			for k, v := range norm.Record {
				rec[k] = v
			}
			rec[types.ColumnID] = e.codec.Encode(id)
			rec[types.ColumnCreated] = created
			out = append(out, rec)
		}
	}

	if err := t.journal.Commit(); err != nil {
		return nil, err
	}
	if err := e.catalog.AddRowCount(ctx, name, int64(len(docs))); err != nil {
		return nil, err
	}
	e.log.Debug("stored records", zap.String("table", name), zap.Int("count", len(docs)))
	return out, nil
}

// PostOne stores a single record and returns it with its external ID.
func (e *Engine) PostOne(ctx context.Context, name string, doc types.Record) (types.Record, error) {
	out, err := e.Post(ctx, name, []types.Record{doc}, &WriteOptions{ReturnRecords: true})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Get returns the records matching where, in storage order, with
// table-typed fields resolved into their target records. Zero matches
// return nil rather than an empty slice or an error.
func (e *Engine) Get(ctx context.Context, name string, where Where, opts *ReadOptions) ([]types.Record, error) {
	t, err := e.table(name)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	positions, err := e.matchPositions(t, where)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	positions = paginate(positions, opts)
	if len(positions) == 0 {
		t.mu.Unlock()
		return nil, nil
	}
	recs, err := e.materialize(t, positions)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if err := e.resolveRecord(ctx, t.validator.Schema(), rec, map[string]bool{refKey(name, rec[types.ColumnID].(string)): true}); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// GetOne returns the first match or nil.
func (e *Engine) GetOne(ctx context.Context, name string, where Where) (types.Record, error) {
	recs, err := e.Get(ctx, name, where, &ReadOptions{Page: 1, PerPage: 1})
	if err != nil || recs == nil {
		return nil, err
	}
	return recs[0], nil
}

func paginate(positions []int, opts *ReadOptions) []int {
	if opts == nil || opts.PerPage <= 0 {
		return positions
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * opts.PerPage
	if start >= len(positions) {
		return nil
	}
	end := start + opts.PerPage
	if end > len(positions) {
		end = len(positions)
	}
	return positions[start:end]
}

// Put merges patch into every record matching where and rewrites the
// affected lines. Top-level keys replace wholesale; a nil value removes
// the key. The merged record is validated in full, so a patch cannot
// leave a row violating the schema, and matched rows are exempt from
// colliding with their own stored values.
func (e *Engine) Put(ctx context.Context, name string, where Where, patch types.Record) (int, error) {
	t, err := e.table(name)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	positions, err := e.matchPositions(t, where)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, nil
	}

	cellRows, err := t.rowCells(positions)
	if err != nil {
		return 0, err
	}
	// CheckUnique indexes stored cells zero-based; positions are 1-indexed
	// storage lines.
	skip := make(map[int]bool, len(positions))
	for _, pos := range positions {
		skip[pos-1] = true
	}

	norms := make([]*schema.Normalized, len(cellRows))
	for i, cells := range cellRows {
		current, err := t.validator.RecordFromCells(cells)
		if err != nil {
			return 0, err
		}
		for key, val := range patch {
			if key == types.ColumnID || key == types.ColumnCreated {
				continue
			}
			if val == nil {
				delete(current, key)
				continue
			}
			current[key] = val
		}
		norm, err := t.validator.Validate(current)
		if err != nil {
			return 0, err
		}
		norms[i] = norm
	}
	if err := t.validator.CheckUnique(norms, storeRows{t}, skip); err != nil {
		return 0, err
	}

	lines, err := t.store.LineCount(types.ColumnID)
	if err != nil {
		return 0, err
	}
	// UpdateLine rewrites whole files at constant length, so a torn put
	// never grows a column; tail-side repair is right regardless of the
	// insert policy.
	if err := t.journal.Begin("put", lines, false, t.allPaths()); err != nil {
		return 0, err
	}
	for i, pos := range positions {
		if err := t.store.UpdateLine(pos, norms[i].Cells); err != nil {
			return 0, err
		}
	}
	if err := t.journal.Commit(); err != nil {
		return 0, err
	}
	e.log.Debug("updated records", zap.String("table", name), zap.Int("count", len(positions)))
	return len(positions), nil
}

// Delete removes every record matching where (nil removes all rows) and
// cascades: rows in other tables whose table-typed fields reference a
// deleted record are deleted too. A visited set keeps reference cycles
// from recursing forever.
func (e *Engine) Delete(ctx context.Context, name string, where Where) (int, error) {
	return e.deleteCascade(ctx, name, where, make(map[string]bool))
}

func (e *Engine) deleteCascade(ctx context.Context, name string, where Where, visited map[string]bool) (int, error) {
	tokens, n, err := e.deleteRows(ctx, name, where, visited)
	if err != nil || len(tokens) == 0 {
		return n, err
	}

	for _, ref := range e.referencesTo(name) {
		for _, token := range tokens {
			if _, err := e.deleteCascade(ctx, ref.table, Where{ref.path: token}, visited); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// deleteRows performs the physical removal on one table and returns the
// external IDs of the removed rows for cascading. Rows already handled
// in this cascade are skipped.
func (e *Engine) deleteRows(ctx context.Context, name string, where Where, visited map[string]bool) ([]string, int, error) {
	t, err := e.table(name)
	if err != nil {
		return nil, 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	positions, err := e.matchPositions(t, where)
	if err != nil {
		return nil, 0, err
	}
	if len(positions) == 0 {
		return nil, 0, nil
	}

	idCells, err := t.columnSlice(types.ColumnID, positions)
	if err != nil {
		return nil, 0, err
	}
	var kept []int
	var tokens []string
	for i, pos := range positions {
		id, err := strconv.ParseInt(idCells[i], 10, 64)
		if err != nil {
			continue
		}
		token := e.codec.Encode(id)
		key := refKey(name, token)
		if visited[key] {
			continue
		}
		visited[key] = true
		kept = append(kept, pos)
		tokens = append(tokens, token)
	}
	if len(kept) == 0 {
		return nil, 0, nil
	}

	lines, err := t.store.LineCount(types.ColumnID)
	if err != nil {
		return nil, 0, err
	}
	paths := t.allPaths()
	if err := t.journal.Begin("delete", lines, false, paths); err != nil {
		return nil, 0, err
	}
	if err := t.store.DeleteLines(paths, kept); err != nil {
		return nil, 0, err
	}
	if err := t.journal.Commit(); err != nil {
		return nil, 0, err
	}
	if err := e.catalog.AddRowCount(ctx, name, -int64(len(kept))); err != nil {
		return nil, 0, err
	}
	e.log.Debug("deleted records", zap.String("table", name), zap.Int("count", len(kept)))
	return tokens, len(kept), nil
}

func refKey(table, token string) string {
	return table + "\x00" + token
}
