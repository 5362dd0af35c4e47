package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NodeID is a stable handle for a node. Zero means "no node".
type NodeID int64

// EdgeID is a stable handle for an edge, increasing in creation order.
type EdgeID int64

var (
	// ErrNotFound is returned when a referenced node does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a concurrent transaction.
	// The whole transaction has been rolled back and may be retried.
	ErrConflict = errors.New("write conflict")
	// ErrReadOnly is returned when a mutation is attempted inside View.
	ErrReadOnly = errors.New("read-only transaction")
)

// Node is a vertex of the graph. Tree nodes carry Parent and Value;
// arbitrary entities carry Properties.
type Node struct {
	ID         NodeID         `json:"id"`
	Label      string         `json:"label"`
	Parent     NodeID         `json:"parent,omitempty"`
	Value      *int           `json:"value,omitempty"`
	Properties map[string]any `json:"properties"`
}

// ValueOr returns the node's calendar value, or def when it has none.
func (n *Node) ValueOr(def int) int {
	if n == nil || n.Value == nil {
		return def
	}
	return *n.Value
}

// Edge is a directed, typed relationship From → To.
type Edge struct {
	ID   EdgeID `json:"id"`
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
	Type string `json:"type"`
}

// Other returns the end of e that is not id.
func (e *Edge) Other(id NodeID) NodeID {
	if e.From == id {
		return e.To
	}
	return e.From
}

// Direction is an edge orientation as seen from a given node.
type Direction int

const (
	Outgoing Direction = iota + 1
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "OUTGOING"
	case Incoming:
		return "INCOMING"
	case Both:
		return "BOTH"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses INCOMING, OUTGOING or BOTH (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INCOMING":
		return Incoming, nil
	case "OUTGOING":
		return Outgoing, nil
	case "BOTH":
		return Both, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// DirectionOf reports the direction of e relative to id.
func DirectionOf(e *Edge, id NodeID) Direction {
	if e.From == id {
		return Outgoing
	}
	return Incoming
}

// Matches reports whether an edge seen from id satisfies d.
func (d Direction) Matches(e *Edge, id NodeID) bool {
	switch d {
	case Both:
		return e.From == id || e.To == id
	case Outgoing:
		return e.From == id
	case Incoming:
		return e.To == id
	}
	return false
}

// Store is the contract for graph persistence.
type Store interface {
	// Update runs fn in a read-write transaction. It commits when fn returns nil
	// and rolls back otherwise; nothing fn wrote is visible to others until commit.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is a transactional view of the graph.
type Tx interface {
	Node(ctx context.Context, id NodeID) (*Node, error)
	NodesByLabel(ctx context.Context, label string) ([]Node, error)
	CreateNode(ctx context.Context, label string, props map[string]any) (*Node, error)
	SetProperties(ctx context.Context, id NodeID, props map[string]any) (*Node, error)

	// CreateChild creates a node with the given label and value together with a
	// CHILD edge from parent. A second child with the same value under the same
	// parent fails with ErrConflict.
	CreateChild(ctx context.Context, parent NodeID, label string, value int) (*Node, error)

	CreateEdge(ctx context.Context, from, to NodeID, relType string) (*Edge, error)
	// SetEdge replaces from's outgoing edge of relType (if any) with from → to.
	SetEdge(ctx context.Context, from, to NodeID, relType string) error
	// Edge returns the single edge of relType at id in dir, or nil.
	Edge(ctx context.Context, id NodeID, relType string, dir Direction) (*Edge, error)
	// Edges returns the edges at id in dir, in creation order. An empty relType
	// matches every type.
	Edges(ctx context.Context, id NodeID, relType string, dir Direction) ([]Edge, error)

	// Lock takes an exclusive write lock on id's child set until the transaction ends.
	Lock(ctx context.Context, id NodeID) error
}

// Tree-structure relationship types.
const (
	RelChild = "CHILD"
	RelFirst = "FIRST"
	RelLast  = "LAST"
	RelNext  = "NEXT"
)

// IsStructural reports whether relType is reserved for the tree itself.
func IsStructural(relType string) bool {
	switch relType {
	case RelChild, RelFirst, RelLast, RelNext:
		return true
	}
	return false
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
