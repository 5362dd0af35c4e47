package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTables creates the node and edge tables if they don't exist.
func (s *PgStore) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graph_nodes (
			id         BIGSERIAL PRIMARY KEY,
			label      TEXT NOT NULL,
			parent_id  BIGINT REFERENCES graph_nodes(id),
			value      INTEGER,
			properties JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_nodes_child ON graph_nodes(parent_id, value) WHERE parent_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_graph_nodes_label ON graph_nodes(label)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			id      BIGSERIAL PRIMARY KEY,
			from_id BIGINT NOT NULL REFERENCES graph_nodes(id),
			to_id   BIGINT NOT NULL REFERENCES graph_nodes(id),
			type    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges(from_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_id, type)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_edges_single_out ON graph_edges(from_id, type) WHERE type IN ('FIRST', 'LAST', 'NEXT')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_graph_edges_single_in ON graph_edges(to_id) WHERE type = 'NEXT'`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Update runs fn in a READ COMMITTED transaction. Row locks taken through
// Tx.Lock serialize writers on the same child set.
func (s *PgStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, writable: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", pgErr(err))
	}
	return nil
}

// View runs fn in a read-only REPEATABLE READ transaction (a stable snapshot).
func (s *PgStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Close closes the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// pgErr maps constraint violations, serialization failures and deadlocks to ErrConflict.
func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505", "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pe.Message)
		}
	}
	return err
}

type pgTx struct {
	tx       pgx.Tx
	writable bool
}

func (t *pgTx) check() error {
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

const nodeColumns = `id, label, COALESCE(parent_id, 0), value, properties`

func (t *pgTx) scanNode(row pgx.Row) (*Node, error) {
	var n Node
	var props []byte
	if err := row.Scan(&n.ID, &n.Label, &n.Parent, &n.Value, &props); err != nil {
		return nil, err
	}
	p, err := unmarshalProps(props)
	if err != nil {
		return nil, err
	}
	n.Properties = p
	return &n, nil
}

func (t *pgTx) Node(ctx context.Context, id NodeID) (*Node, error) {
	n, err := t.scanNode(t.tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM graph_nodes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	return n, nil
}

func (t *pgTx) NodesByLabel(ctx context.Context, label string) ([]Node, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+nodeColumns+` FROM graph_nodes WHERE label = $1 ORDER BY id`, label)
	if err != nil {
		return nil, fmt.Errorf("nodes by label %s: %w", label, err)
	}
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		n, err := t.scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return nodes, nil
}

func (t *pgTx) CreateNode(ctx context.Context, label string, props map[string]any) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	propsJSON, err := marshalProps(props)
	if err != nil {
		return nil, err
	}
	n, err := t.scanNode(t.tx.QueryRow(ctx, `
		INSERT INTO graph_nodes (label, properties) VALUES ($1, $2::jsonb)
		RETURNING `+nodeColumns, label, string(propsJSON)))
	if err != nil {
		return nil, fmt.Errorf("create node: %w", pgErr(err))
	}
	return n, nil
}

func (t *pgTx) SetProperties(ctx context.Context, id NodeID, props map[string]any) (*Node, error) {
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
	n, err := t.scanNode(t.tx.QueryRow(ctx, `
		UPDATE graph_nodes SET properties = $1::jsonb WHERE id = $2
		RETURNING `+nodeColumns, string(propsJSON), id))
	if err != nil {
		return nil, fmt.Errorf("set properties on node %d: %w", id, pgErr(err))
	}
	return n, nil
}

func (t *pgTx) CreateChild(ctx context.Context, parent NodeID, label string, value int) (*Node, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	n, err := t.scanNode(t.tx.QueryRow(ctx, `
		INSERT INTO graph_nodes (label, parent_id, value) VALUES ($1, $2, $3)
		RETURNING `+nodeColumns, label, parent, value))
	if err != nil {
		return nil, fmt.Errorf("create child %d of node %d: %w", value, parent, pgErr(err))
	}
	if _, err := t.CreateEdge(ctx, parent, n.ID, RelChild); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *pgTx) CreateEdge(ctx context.Context, from, to NodeID, relType string) (*Edge, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	e := Edge{From: from, To: to, Type: relType}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO graph_edges (from_id, to_id, type) VALUES ($1, $2, $3) RETURNING id`,
		from, to, relType).Scan(&e.ID)
	if err != nil {
		var pe *pgconn.PgError
		if errors.As(err, &pe) && pe.Code == "23503" {
			return nil, fmt.Errorf("edge %d-[%s]->%d: %w", from, relType, to, ErrNotFound)
		}
		return nil, fmt.Errorf("create edge %d-[%s]->%d: %w", from, relType, to, pgErr(err))
	}
	return &e, nil
}

func (t *pgTx) SetEdge(ctx context.Context, from, to NodeID, relType string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM graph_edges WHERE from_id = $1 AND type = $2`, from, relType); err != nil {
		return fmt.Errorf("clear %s of node %d: %w", relType, from, pgErr(err))
	}
	_, err := t.CreateEdge(ctx, from, to, relType)
	return err
}

func (t *pgTx) Edge(ctx context.Context, id NodeID, relType string, dir Direction) (*Edge, error) {
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

func (t *pgTx) Edges(ctx context.Context, id NodeID, relType string, dir Direction) ([]Edge, error) {
	var where string
	switch dir {
	case Outgoing:
		where = `from_id = $1`
	case Incoming:
		where = `to_id = $1`
	case Both:
		where = `(from_id = $1 OR to_id = $1)`
	default:
		return nil, fmt.Errorf("invalid direction %v", dir)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, from_id, to_id, type FROM graph_edges
		WHERE `+where+` AND ($2 = '' OR type = $2)
		ORDER BY id`, id, relType)
	if err != nil {
		return nil, fmt.Errorf("edges of node %d: %w", id, err)
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Type); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return edges, nil
}

func (t *pgTx) Lock(ctx context.Context, id NodeID) error {
	if err := t.check(); err != nil {
		return err
	}
	var locked NodeID
	err := t.tx.QueryRow(ctx, `SELECT id FROM graph_nodes WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock node %d: %w", id, pgErr(err))
	}
	return nil
}
