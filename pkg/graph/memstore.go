package graph

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store. Nodes and edges live in append-only arenas
// addressed by integer handles; writers are serialized and a failed Update is
// undone from a per-transaction undo log.
type MemStore struct {
	mu       sync.RWMutex
	nodes    []memNode
	edges    []memEdge
	out      map[NodeID][]EdgeID
	in       map[NodeID][]EdgeID
	children map[childKey]NodeID
	byLabel  map[string][]NodeID
	closed   bool
}

type memNode struct {
	label  string
	parent NodeID
	value  *int
	props  map[string]any
}

type memEdge struct {
	Edge
	deleted bool
}

type childKey struct {
	parent NodeID
	value  int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		out:      make(map[NodeID][]EdgeID),
		in:       make(map[NodeID][]EdgeID),
		children: make(map[childKey]NodeID),
		byLabel:  make(map[string][]NodeID),
	}
}

// Update runs fn holding the store's write lock.
func (s *MemStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memstore: closed")
	}

	tx := &memTx{s: s, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// View runs fn holding the store's read lock.
func (s *MemStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memstore: closed")
	}
	return fn(&memTx{s: s})
}

// Close marks the store closed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// NodeCount returns the number of nodes ever created.
func (s *MemStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

type memTx struct {
	s        *MemStore
	writable bool
	undo     []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) node(id NodeID) (*memNode, error) {
	if id <= 0 || int(id) > len(tx.s.nodes) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return &tx.s.nodes[id-1], nil
}

func (tx *memTx) check(ctx context.Context) error {
	if !tx.writable {
		return ErrReadOnly
	}
	return ctx.Err()
}

func (tx *memTx) Node(_ context.Context, id NodeID) (*Node, error) {
	n, err := tx.node(id)
	if err != nil {
		return nil, err
	}
	return n.export(id), nil
}

func (n *memNode) export(id NodeID) *Node {
	out := &Node{ID: id, Label: n.label, Parent: n.parent, Properties: copyProps(n.props)}
	if n.value != nil {
		v := *n.value
		out.Value = &v
	}
	return out
}

func (tx *memTx) NodesByLabel(_ context.Context, label string) ([]Node, error) {
	ids := tx.s.byLabel[label]
	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, *tx.s.nodes[id-1].export(id))
	}
	return nodes, nil
}

func (tx *memTx) appendNode(n memNode) NodeID {
	s := tx.s
	s.nodes = append(s.nodes, n)
	id := NodeID(len(s.nodes))
	s.byLabel[n.label] = append(s.byLabel[n.label], id)
	tx.undo = append(tx.undo, func() {
		s.nodes = s.nodes[:id-1]
		ids := s.byLabel[n.label]
		s.byLabel[n.label] = ids[:len(ids)-1]
		if len(s.byLabel[n.label]) == 0 {
			delete(s.byLabel, n.label)
		}
		delete(s.out, id)
		delete(s.in, id)
	})
	return id
}

func (tx *memTx) CreateNode(ctx context.Context, label string, props map[string]any) (*Node, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	id := tx.appendNode(memNode{label: label, props: copyProps(props)})
	return tx.Node(ctx, id)
}

func (tx *memTx) SetProperties(ctx context.Context, id NodeID, props map[string]any) (*Node, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	n, err := tx.node(id)
	if err != nil {
		return nil, err
	}
	prev := n.props
	n.props = mergeProps(prev, props)
	tx.undo = append(tx.undo, func() { tx.s.nodes[id-1].props = prev })
	return tx.Node(ctx, id)
}

func (tx *memTx) CreateChild(ctx context.Context, parent NodeID, label string, value int) (*Node, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	if _, err := tx.node(parent); err != nil {
		return nil, err
	}
	key := childKey{parent: parent, value: value}
	if _, dup := tx.s.children[key]; dup {
		return nil, fmt.Errorf("child %d of node %d: %w", value, parent, ErrConflict)
	}
	v := value
	id := tx.appendNode(memNode{label: label, parent: parent, value: &v, props: map[string]any{}})
	tx.s.children[key] = id
	tx.undo = append(tx.undo, func() { delete(tx.s.children, key) })
	if _, err := tx.CreateEdge(ctx, parent, id, RelChild); err != nil {
		return nil, err
	}
	return tx.Node(ctx, id)
}

func (tx *memTx) CreateEdge(ctx context.Context, from, to NodeID, relType string) (*Edge, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	if _, err := tx.node(from); err != nil {
		return nil, err
	}
	if _, err := tx.node(to); err != nil {
		return nil, err
	}
	s := tx.s
	e := Edge{ID: EdgeID(len(s.edges) + 1), From: from, To: to, Type: relType}
	s.edges = append(s.edges, memEdge{Edge: e})
	s.out[from] = append(s.out[from], e.ID)
	s.in[to] = append(s.in[to], e.ID)
	tx.undo = append(tx.undo, func() {
		s.edges = s.edges[:e.ID-1]
		s.out[from] = trimEdge(s.out[from], e.ID)
		s.in[to] = trimEdge(s.in[to], e.ID)
	})
	return &e, nil
}

// trimEdge drops id from the tail of ids; edges are appended in ID order and
// undone in reverse, so id is always last.
func trimEdge(ids []EdgeID, id EdgeID) []EdgeID {
	if n := len(ids); n > 0 && ids[n-1] == id {
		return ids[:n-1]
	}
	return ids
}

func (tx *memTx) SetEdge(ctx context.Context, from, to NodeID, relType string) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	existing, err := tx.Edge(ctx, from, relType, Outgoing)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.To == to {
			return nil
		}
		me := &tx.s.edges[existing.ID-1]
		me.deleted = true
		tx.undo = append(tx.undo, func() { tx.s.edges[existing.ID-1].deleted = false })
	}
	_, err = tx.CreateEdge(ctx, from, to, relType)
	return err
}

func (tx *memTx) Edge(ctx context.Context, id NodeID, relType string, dir Direction) (*Edge, error) {
	edges, err := tx.Edges(ctx, id, relType, dir)
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

func (tx *memTx) Edges(_ context.Context, id NodeID, relType string, dir Direction) ([]Edge, error) {
	if _, err := tx.node(id); err != nil {
		return nil, err
	}
	var ids []EdgeID
	switch dir {
	case Outgoing:
		ids = tx.s.out[id]
	case Incoming:
		ids = tx.s.in[id]
	case Both:
		ids = mergeEdgeIDs(tx.s.out[id], tx.s.in[id])
	default:
		return nil, fmt.Errorf("invalid direction %v", dir)
	}
	var edges []Edge
	for _, eid := range ids {
		e := tx.s.edges[eid-1]
		if e.deleted || (relType != "" && e.Type != relType) {
			continue
		}
		edges = append(edges, e.Edge)
	}
	return edges, nil
}

// mergeEdgeIDs merges two ascending ID lists, dropping self-loop duplicates.
func mergeEdgeIDs(a, b []EdgeID) []EdgeID {
	out := make([]EdgeID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Lock is a no-op: Update already holds the store-wide write lock.
func (tx *memTx) Lock(ctx context.Context, id NodeID) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	_, err := tx.node(id)
	return err
}
