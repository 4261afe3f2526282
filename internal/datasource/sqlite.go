package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteProvider serves rows of an adjacency-list table as tree children.
// The database is opened read-only; treeline never writes to it.
//
// Expected schema:
//
//	CREATE TABLE nodes (
//	    id        TEXT PRIMARY KEY,
//	    parent_id TEXT REFERENCES nodes(id),  -- NULL marks a top-level row
//	    name      TEXT NOT NULL,
//	    is_branch INTEGER NOT NULL DEFAULT 0,
//	    size      INTEGER,
//	    mtime     INTEGER                      -- unix seconds
//	);
type SQLiteProvider struct {
	db   *sql.DB
	name string
}

// OpenSQLite opens the database at path for reading.
func OpenSQLite(path string) (*SQLiteProvider, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database %s: %w", path, err)
	}

	// Best effort; a read-only connection may reject some of these.
	for _, pragma := range []string{
		"PRAGMA cache_size = -64000",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA temp_store = MEMORY",
	} {
		db.Exec(pragma)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &SQLiteProvider{db: db, name: name}, nil
}

// Close releases the database handle.
func (p *SQLiteProvider) Close() error { return p.db.Close() }

// Root returns a synthetic entry parenting the table's top-level rows. Its
// ID is empty, which no real row may use.
func (p *SQLiteProvider) Root() Entry {
	return Entry{ID: "", Name: p.name, IsBranch: true}
}

// HasChildren reports whether the entry is flagged as a branch.
func (p *SQLiteProvider) HasChildren(e Entry) bool { return e.IsBranch }

// GetChildren returns the rows whose parent is e, branches first, each
// group ordered by name.
func (p *SQLiteProvider) GetChildren(ctx context.Context, e Entry) ([]Entry, error) {
	const base = `
		SELECT id, name, is_branch, size, mtime
		FROM nodes
		WHERE %s
		ORDER BY is_branch DESC, name`

	var rows *sql.Rows
	var err error
	if e.ID == "" {
		rows, err = p.db.QueryContext(ctx, fmt.Sprintf(base, "parent_id IS NULL"))
	} else {
		rows, err = p.db.QueryContext(ctx, fmt.Sprintf(base, "parent_id = ?"), e.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying children of %q: %w", e.ID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id, name string
			isBranch int
			size     sql.NullInt64
			mtime    sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &isBranch, &size, &mtime); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		child := Entry{
			ID:       id,
			Name:     name,
			IsBranch: isBranch != 0,
		}
		if size.Valid {
			child.Size = size.Int64
		}
		if mtime.Valid {
			child.ModTime = time.Unix(mtime.Int64, 0)
		}
		out = append(out, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return out, nil
}
