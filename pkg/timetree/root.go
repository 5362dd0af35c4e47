package timetree

import (
	"context"
	"fmt"

	"timetree/pkg/graph"
)

// RootLabel labels the process-wide default root.
const RootLabel = "TimeTreeRoot"

// Root selects the node a tree hangs from. Both implementations enforce the
// same invariants; they differ only in how the root node is found.
type Root interface {
	// Resolve returns the root node. When create is false and the root does
	// not exist yet, it returns (nil, nil).
	Resolve(ctx context.Context, tx graph.Tx, create bool) (*graph.Node, error)
}

// DefaultRoot is the single tree rooted at the oldest TimeTreeRoot node,
// created on first write.
var DefaultRoot Root = defaultRoot{}

type defaultRoot struct{}

func (defaultRoot) Resolve(ctx context.Context, tx graph.Tx, create bool) (*graph.Node, error) {
	roots, err := tx.NodesByLabel(ctx, RootLabel)
	if err != nil {
		return nil, fmt.Errorf("find default root: %w", err)
	}
	if len(roots) > 0 {
		return &roots[0], nil
	}
	if !create {
		return nil, nil
	}
	root, err := tx.CreateNode(ctx, RootLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("create default root: %w", err)
	}
	return root, nil
}

func (defaultRoot) String() string { return "default" }

// CustomRoot is a caller-supplied root node. It must already exist.
type CustomRoot graph.NodeID

func (r CustomRoot) Resolve(ctx context.Context, tx graph.Tx, _ bool) (*graph.Node, error) {
	n, err := tx.Node(ctx, graph.NodeID(r))
	if err != nil {
		return nil, fmt.Errorf("custom root: %w", err)
	}
	if _, isLevel := ResolutionForLabel(n.Label); isLevel {
		return nil, fmt.Errorf("%w: node %d is a %s node and cannot be a root", ErrValidation, n.ID, n.Label)
	}
	return n, nil
}

func (r CustomRoot) String() string { return fmt.Sprintf("node %d", graph.NodeID(r)) }

// RootFor returns CustomRoot(id) for a positive id and DefaultRoot otherwise.
func RootFor(id graph.NodeID) Root {
	if id > 0 {
		return CustomRoot(id)
	}
	return DefaultRoot
}

// EnsureDefaultRoot creates the default root if it is missing. Call it once
// at startup, before concurrent writers exist.
func (t *TimeTree) EnsureDefaultRoot(ctx context.Context) (*graph.Node, error) {
	var root *graph.Node
	err := t.update(ctx, "ensure root", func(tx graph.Tx) error {
		var err error
		root, err = DefaultRoot.Resolve(ctx, tx, true)
		return err
	})
	return root, err
}
