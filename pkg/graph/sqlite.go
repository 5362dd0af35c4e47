package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    label      TEXT NOT NULL,
    parent_id  INTEGER REFERENCES graph_nodes(id),
    value      INTEGER,
    properties TEXT NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_nodes_child ON graph_nodes(parent_id, value) WHERE parent_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_graph_nodes_label ON graph_nodes(label);

CREATE TABLE IF NOT EXISTS graph_edges (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    from_id INTEGER NOT NULL REFERENCES graph_nodes(id),
    to_id   INTEGER NOT NULL REFERENCES graph_nodes(id),
    type    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges(from_id, type);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_id, type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_edges_single_out ON graph_edges(from_id, type) WHERE type IN ('FIRST', 'LAST', 'NEXT');
CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_edges_single_in ON graph_edges(to_id) WHERE type = 'NEXT';
`

// SQLiteStore is a Store backed by a local SQLite database in WAL mode.
// Writers in this process are serialized by a mutex and writers in other
// processes by an advisory lock file next to the database.
type SQLiteStore struct {
	db          *sql.DB
	mu          sync.Mutex
	lock        *flock.Flock
	lockTimeout time.Duration
}

// OpenSQLiteStore opens (or creates) the database at path and creates the schema.
func OpenSQLiteStore(ctx context.Context, path string, lockTimeout time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// One connection: SQLite has a single writer, and foreign_keys is per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	s := &SQLiteStore{db: db, lockTimeout: lockTimeout}
	if path != ":memory:" {
		s.lock = flock.New(path + ".lock")
	}
	return s, nil
}

// Update runs fn in a write transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
		locked, err := s.lock.TryLockContext(lockCtx, 10*time.Millisecond)
		cancel()
		if err != nil || !locked {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sqlite: acquire %s: %w", s.lock.Path(), ErrConflict)
		}
		defer s.lock.Unlock() //nolint:errcheck
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", sqliteErr(err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&sqliteTx{tx: tx, writable: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", sqliteErr(err))
	}
	return nil
}

// View runs fn in a transaction that rejects writes.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin read tx: %w", sqliteErr(err))
	}
	defer tx.Rollback() //nolint:errcheck

	return fn(&sqliteTx{tx: tx})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteErr maps busy/locked databases and unique violations to ErrConflict.
func sqliteErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrConflict, se.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s", ErrNotFound, se.Error())
		}
	}
	return err
}

type sqliteTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *sqliteTx) check() error {
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

const sqliteNodeColumns = `id, label, COALESCE(parent_id, 0), value, properties`

func scanSQLiteNode(row interface{ Scan(dest ...any) error }) (*Node, error) {
	var n Node
	var value sql.NullInt64
	var props string
	if err := row.Scan(&n.ID, &n.Label, &n.Parent, &value, &props); err != nil {
		return nil, err
	}
	if value.Valid {
		v := int(value.Int64)
		n.Value = &v
	}
	p, err := unmarshalProps([]byte(props))
	if err != nil {
		return nil, err
	}
	n.Properties = p
	return &n, nil
}

func (t *sqliteTx) Node(ctx context.Context, id NodeID) (*Node, error) {
	n, err := scanSQLiteNode(t.tx.QueryRowContext(ctx, `SELECT `+sqliteNodeColumns+` FROM graph_nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get node %d: %w", id, sqliteErr(err))
	}
	return n, nil
}

func (t *sqliteTx) NodesByLabel(ctx context.Context, label string) ([]Node, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+sqliteNodeColumns+` FROM graph_nodes WHERE label = ? ORDER BY id`, label)
	if err != nil {
		return nil, fmt.Errorf("sqlite: nodes by label %s: %w", label, sqliteErr(err))
	}
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		n, err := scanSQLiteNode(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate nodes: %w", err)
	}
	return nodes, nil
}

func (t *sqliteTx) CreateNode(ctx context.Context, label string, props map[string]any) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	propsJSON, err := marshalProps(props)
	if err != nil {
		return nil, err
	}
	n, err := scanSQLiteNode(t.tx.QueryRowContext(ctx, `
		INSERT INTO graph_nodes (label, properties) VALUES (?, ?)
		RETURNING `+sqliteNodeColumns, label, string(propsJSON)))
	if err != nil {
		return nil, fmt.Errorf("sqlite: create node: %w", sqliteErr(err))
	}
	return n, nil
}

func (t *sqliteTx) SetProperties(ctx context.Context, id NodeID, props map[string]any) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	current, err := t.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	propsJSON, err := marshalProps(mergeProps(current.Properties, props))
	if err != nil {
		return nil, err
	}
	n, err := scanSQLiteNode(t.tx.QueryRowContext(ctx, `
		UPDATE graph_nodes SET properties = ? WHERE id = ?
		RETURNING `+sqliteNodeColumns, string(propsJSON), id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: set properties on node %d: %w", id, sqliteErr(err))
	}
	return n, nil
}

func (t *sqliteTx) CreateChild(ctx context.Context, parent NodeID, label string, value int) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	n, err := scanSQLiteNode(t.tx.QueryRowContext(ctx, `
		INSERT INTO graph_nodes (label, parent_id, value) VALUES (?, ?, ?)
		RETURNING `+sqliteNodeColumns, label, parent, value))
	if err != nil {
		return nil, fmt.Errorf("sqlite: create child %d of node %d: %w", value, parent, sqliteErr(err))
	}
	if _, err := t.CreateEdge(ctx, parent, n.ID, RelChild); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *sqliteTx) CreateEdge(ctx context.Context, from, to NodeID, relType string) (*Edge, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	e := Edge{From: from, To: to, Type: relType}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO graph_edges (from_id, to_id, type) VALUES (?, ?, ?) RETURNING id`,
		from, to, relType).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create edge %d-[%s]->%d: %w", from, relType, to, sqliteErr(err))
	}
	return &e, nil
}

func (t *sqliteTx) SetEdge(ctx context.Context, from, to NodeID, relType string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE from_id = ? AND type = ?`, from, relType); err != nil {
		return fmt.Errorf("sqlite: clear %s of node %d: %w", relType, from, sqliteErr(err))
	}
	_, err := t.CreateEdge(ctx, from, to, relType)
	return err
}

func (t *sqliteTx) Edge(ctx context.Context, id NodeID, relType string, dir Direction) (*Edge, error) {
	edges, err := t.Edges(ctx, id, relType, dir)
	if err != nil {
		return nil, err
	}
	switch len(edges) {
	case 0:
		return nil, nil
	case 1:
		return &edges[0], nil
	}
	return nil, fmt.Errorf("node %d has %d %s %s edges, want at most one", id, len(edges), dir, relType)
}

func (t *sqliteTx) Edges(ctx context.Context, id NodeID, relType string, dir Direction) ([]Edge, error) {
	var where string
	args := []any{id}
	switch dir {
	case Outgoing:
		where = `from_id = ?`
	case Incoming:
		where = `to_id = ?`
	case Both:
		where = `(from_id = ? OR to_id = ?)`
		args = append(args, id)
	default:
		return nil, fmt.Errorf("invalid direction %v", dir)
	}
	args = append(args, relType, relType)
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, from_id, to_id, type FROM graph_edges
		WHERE `+where+` AND (? = '' OR type = ?)
		ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: edges of node %d: %w", id, sqliteErr(err))
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Type); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate edges: %w", err)
	}
	return edges, nil
}

// Lock verifies id exists. Update already holds the process and file locks,
// and SQLite has a single writer.
func (t *sqliteTx) Lock(ctx context.Context, id NodeID) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.Node(ctx, id)
	return err
}
