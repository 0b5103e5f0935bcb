// Package catalog persists per-table configuration and row accounting in a
// per-database SQLite file (catalog.db). The schema itself lives in each
// table's descriptor file; the catalog holds what every operation needs
// before touching a column file: the storage policies, the cached row
// count backing pageInfo, and the next internal row identifier.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stratumdb/stratum/internal/dberr"
	"github.com/stratumdb/stratum/pkg/types"
)

// FileName is the catalog file inside a database directory.
const FileName = "catalog.db"

// TableRecord is one table's catalog row.
type TableRecord struct {
	Name          string
	Config        types.TableConfig
	RowCount      int64
	NextRowID     int64
	SchemaVersion int
	CreatedAt     time.Time
}

// Catalog manages table metadata in catalog.db. A single write connection
// with WAL journaling keeps it consistent under the engine's one-writer
// model.
type Catalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens (or creates) a catalog database.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeWriteFailed, "open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Catalog{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	_, err := c.db.Exec(`
CREATE TABLE IF NOT EXISTS tables (
    name           TEXT PRIMARY KEY,
    compression    INTEGER NOT NULL DEFAULT 0,
    prepend        INTEGER NOT NULL DEFAULT 0,
    row_count      INTEGER NOT NULL DEFAULT 0,
    next_row_id    INTEGER NOT NULL DEFAULT 1,
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL
)`)
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "initialize catalog schema", err)
	}
	return nil
}

// Close closes the catalog database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// CreateTable registers a new table. Fails with TABLE_EXISTS when the name
// is taken.
func (c *Catalog) CreateTable(ctx context.Context, name string, cfg types.TableConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
INSERT INTO tables (name, compression, prepend, created_at)
VALUES (?, ?, ?, ?)`,
		name, boolInt(cfg.Compression), boolInt(cfg.Prepend), time.Now().UnixNano())
	if err != nil {
		if exists, lookErr := c.has(ctx, name); lookErr == nil && exists {
			return dberr.NewTable(dberr.CodeTableExists, fmt.Sprintf("table %q already exists", name))
		}
		return dberr.NewStorage(dberr.CodeWriteFailed, "register table", err)
	}
	return nil
}

func (c *Catalog) has(ctx context.Context, name string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM tables WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Get retrieves one table's record, or TABLE_NOT_FOUND.
func (c *Catalog) Get(ctx context.Context, name string) (*TableRecord, error) {
	var (
		rec                  TableRecord
		compression, prepend int
		createdAt            int64
	)
	err := c.db.QueryRowContext(ctx, `
SELECT name, compression, prepend, row_count, next_row_id, schema_version, created_at
FROM tables WHERE name = ?`, name).
		Scan(&rec.Name, &compression, &prepend, &rec.RowCount, &rec.NextRowID,
			&rec.SchemaVersion, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dberr.NewTable(dberr.CodeTableNotFound, fmt.Sprintf("table %q does not exist", name))
	}
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "read table record", err)
	}
	rec.Config = types.TableConfig{Compression: compression != 0, Prepend: prepend != 0}
	rec.CreatedAt = time.Unix(0, createdAt)
	return &rec, nil
}

// List returns every registered table name in creation order.
func (c *Catalog) List(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM tables ORDER BY created_at`)
	if err != nil {
		return nil, dberr.NewStorage(dberr.CodeReadFailed, "list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dberr.NewStorage(dberr.CodeReadFailed, "scan table name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateConfig stores new storage policies for a table and bumps its
// schema version when asked.
func (c *Catalog) UpdateConfig(ctx context.Context, name string, cfg types.TableConfig, bumpVersion bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bump := 0
	if bumpVersion {
		bump = 1
	}
	res, err := c.db.ExecContext(ctx, `
UPDATE tables
SET compression = ?, prepend = ?, schema_version = schema_version + ?
WHERE name = ?`,
		boolInt(cfg.Compression), boolInt(cfg.Prepend), bump, name)
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "update table config", err)
	}
	return requireHit(res, name)
}

// AddRowCount adjusts the cached row count by delta.
func (c *Catalog) AddRowCount(ctx context.Context, name string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE tables SET row_count = row_count + ? WHERE name = ?`, delta, name)
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "update row count", err)
	}
	return requireHit(res, name)
}

// SetRowCount pins the cached row count to an exact value.
func (c *Catalog) SetRowCount(ctx context.Context, name string, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE tables SET row_count = ? WHERE name = ?`, count, name)
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "set row count", err)
	}
	return requireHit(res, name)
}

// AllocRowIDs reserves n consecutive internal row identifiers and returns
// the first. Identifiers are monotone and never reused, even after
// deletes.
func (c *Catalog) AllocRowIDs(ctx context.Context, name string, n int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dberr.NewStorage(dberr.CodeWriteFailed, "begin id allocation", err)
	}
	defer tx.Rollback()

	var first int64
	err = tx.QueryRowContext(ctx, `SELECT next_row_id FROM tables WHERE name = ?`, name).Scan(&first)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, dberr.NewTable(dberr.CodeTableNotFound, fmt.Sprintf("table %q does not exist", name))
	}
	if err != nil {
		return 0, dberr.NewStorage(dberr.CodeReadFailed, "read next row id", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tables SET next_row_id = next_row_id + ? WHERE name = ?`, n, name); err != nil {
		return 0, dberr.NewStorage(dberr.CodeWriteFailed, "advance next row id", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, dberr.NewStorage(dberr.CodeWriteFailed, "commit id allocation", err)
	}
	return first, nil
}

// Delete removes a table's catalog row.
func (c *Catalog) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM tables WHERE name = ?`, name); err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "delete table record", err)
	}
	return nil
}

func requireHit(res sql.Result, name string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return dberr.NewStorage(dberr.CodeWriteFailed, "check affected rows", err)
	}
	if affected == 0 {
		return dberr.NewTable(dberr.CodeTableNotFound, fmt.Sprintf("table %q does not exist", name))
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
