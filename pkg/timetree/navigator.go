package timetree

import (
	"context"
	"fmt"

	"timetree/pkg/graph"
)

// navigator walks and extends trees inside one transaction.
//
// Every level of a tree forms one NEXT chain in calendar order, crossing
// parent boundaries: the last day of January links to the first day of
// February. Each parent additionally points FIRST and LAST at the ends of
// its own run in that chain.
type navigator struct {
	ctx     context.Context
	tx      graph.Tx
	created int
}

func (nv *navigator) node(id graph.NodeID) (*graph.Node, error) {
	return nv.tx.Node(nv.ctx, id)
}

// follow returns the node at the far end of id's single relType edge in dir.
func (nv *navigator) follow(id graph.NodeID, relType string, dir graph.Direction) (*graph.Node, error) {
	e, err := nv.tx.Edge(nv.ctx, id, relType, dir)
	if err != nil {
		return nil, fmt.Errorf("follow %s from %d: %w", relType, id, err)
	}
	if e == nil {
		return nil, nil
	}
	return nv.node(e.Other(id))
}

// children returns parent's children in ascending order.
func (nv *navigator) children(parent *graph.Node) ([]*graph.Node, error) {
	var out []*graph.Node
	cur, err := nv.follow(parent.ID, graph.RelFirst, graph.Outgoing)
	for err == nil && cur != nil && cur.Parent == parent.ID {
		out = append(out, cur)
		cur, err = nv.follow(cur.ID, graph.RelNext, graph.Outgoing)
	}
	return out, err
}

// find looks path up under root without modifying anything.
func (nv *navigator) find(root *graph.Node, path Path) (*graph.Node, error) {
	node := root
	for _, f := range path {
		next, err := nv.findChild(node, f.Value)
		if err != nil || next == nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}

func (nv *navigator) findChild(parent *graph.Node, value int) (*graph.Node, error) {
	cur, err := nv.follow(parent.ID, graph.RelFirst, graph.Outgoing)
	for err == nil && cur != nil && cur.Parent == parent.ID {
		switch v := cur.ValueOr(-1); {
		case v == value:
			return cur, nil
		case v > value:
			return nil, nil
		}
		cur, err = nv.follow(cur.ID, graph.RelNext, graph.Outgoing)
	}
	return nil, err
}

// instant returns the node for path under root, creating what is missing.
// The caller holds the root lock.
func (nv *navigator) instant(root *graph.Node, path Path) (*graph.Node, error) {
	node := root
	for _, f := range path {
		next, err := nv.child(node, f.Resolution, f.Value)
		if err != nil {
			return nil, fmt.Errorf("%v %d under node %d: %w", f.Resolution, f.Value, node.ID, err)
		}
		node = next
	}
	return node, nil
}

// child returns parent's child with value, splicing a new one into the level
// chain when absent.
func (nv *navigator) child(parent *graph.Node, level Resolution, value int) (*graph.Node, error) {
	first, err := nv.follow(parent.ID, graph.RelFirst, graph.Outgoing)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nv.createFirstChild(parent, level, value)
	}

	var prev *graph.Node
	cur := first
	for cur != nil && cur.Parent == parent.ID && cur.ValueOr(-1) < value {
		prev = cur
		if cur, err = nv.follow(cur.ID, graph.RelNext, graph.Outgoing); err != nil {
			return nil, err
		}
	}

	if cur != nil && cur.Parent == parent.ID {
		if cur.ValueOr(-1) == value {
			return cur, nil
		}
		// Insert before cur.
		n, err := nv.create(parent, level, value)
		if err != nil {
			return nil, err
		}
		before, err := nv.follow(cur.ID, graph.RelNext, graph.Incoming)
		if err != nil {
			return nil, err
		}
		if before != nil {
			if err := nv.link(before, n); err != nil {
				return nil, err
			}
		}
		if err := nv.link(n, cur); err != nil {
			return nil, err
		}
		if prev == nil {
			if err := nv.tx.SetEdge(nv.ctx, parent.ID, n.ID, graph.RelFirst); err != nil {
				return nil, err
			}
		}
		return n, nil
	}

	// Append after prev, the current last child. cur is its successor in the
	// level chain, possibly under a later parent.
	n, err := nv.create(parent, level, value)
	if err != nil {
		return nil, err
	}
	if err := nv.link(prev, n); err != nil {
		return nil, err
	}
	if cur != nil {
		if err := nv.link(n, cur); err != nil {
			return nil, err
		}
	}
	if err := nv.tx.SetEdge(nv.ctx, parent.ID, n.ID, graph.RelLast); err != nil {
		return nil, err
	}
	return n, nil
}

// createFirstChild creates parent's only child and splices it between the
// last child of the nearest earlier parent and the first child of the
// nearest later one.
func (nv *navigator) createFirstChild(parent *graph.Node, level Resolution, value int) (*graph.Node, error) {
	n, err := nv.create(parent, level, value)
	if err != nil {
		return nil, err
	}
	if err := nv.tx.SetEdge(nv.ctx, parent.ID, n.ID, graph.RelFirst); err != nil {
		return nil, err
	}
	if err := nv.tx.SetEdge(nv.ctx, parent.ID, n.ID, graph.RelLast); err != nil {
		return nil, err
	}

	var before, after *graph.Node
	for p := parent; p != nil && before == nil; {
		if p, err = nv.follow(p.ID, graph.RelNext, graph.Incoming); err != nil {
			return nil, err
		}
		if p != nil {
			if before, err = nv.follow(p.ID, graph.RelLast, graph.Outgoing); err != nil {
				return nil, err
			}
		}
	}
	if before != nil {
		if after, err = nv.follow(before.ID, graph.RelNext, graph.Outgoing); err != nil {
			return nil, err
		}
	} else {
		for p := parent; p != nil && after == nil; {
			if p, err = nv.follow(p.ID, graph.RelNext, graph.Outgoing); err != nil {
				return nil, err
			}
			if p != nil {
				if after, err = nv.follow(p.ID, graph.RelFirst, graph.Outgoing); err != nil {
					return nil, err
				}
			}
		}
	}

	if before != nil {
		if err := nv.link(before, n); err != nil {
			return nil, err
		}
	}
	if after != nil {
		if err := nv.link(n, after); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (nv *navigator) create(parent *graph.Node, level Resolution, value int) (*graph.Node, error) {
	n, err := nv.tx.CreateChild(nv.ctx, parent.ID, level.Label(), value)
	if err != nil {
		return nil, err
	}
	nv.created++
	return n, nil
}

// link points from's NEXT at to.
func (nv *navigator) link(from, to *graph.Node) error {
	return nv.tx.SetEdge(nv.ctx, from.ID, to.ID, graph.RelNext)
}

// pathOf returns the calendar values from the root down to n.
func (nv *navigator) pathOf(n *graph.Node) ([]int, error) {
	var rev []int
	for cur := n; cur != nil && cur.Value != nil; {
		rev = append(rev, *cur.Value)
		if cur.Parent == 0 {
			break
		}
		var err error
		if cur, err = nv.node(cur.Parent); err != nil {
			return nil, err
		}
	}
	out := make([]int, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out, nil
}

// ceiling returns the earliest leaf at or after path[depth:] below parent.
func (nv *navigator) ceiling(parent *graph.Node, path Path, depth int) (*graph.Node, error) {
	if depth == len(path) {
		return parent, nil
	}
	kids, err := nv.children(parent)
	if err != nil {
		return nil, err
	}
	target := path[depth].Value
	for _, kid := range kids {
		var n *graph.Node
		switch v := kid.ValueOr(-1); {
		case v == target:
			n, err = nv.ceiling(kid, path, depth+1)
		case v > target:
			n, err = nv.edgeLeaf(kid, len(path)-depth-1, false)
		default:
			continue
		}
		if err != nil || n != nil {
			return n, err
		}
	}
	return nil, nil
}

// floor returns the latest leaf at or before path[depth:] below parent.
func (nv *navigator) floor(parent *graph.Node, path Path, depth int) (*graph.Node, error) {
	if depth == len(path) {
		return parent, nil
	}
	kids, err := nv.children(parent)
	if err != nil {
		return nil, err
	}
	target := path[depth].Value
	for i := len(kids) - 1; i >= 0; i-- {
		kid := kids[i]
		var n *graph.Node
		switch v := kid.ValueOr(-1); {
		case v == target:
			n, err = nv.floor(kid, path, depth+1)
		case v < target:
			n, err = nv.edgeLeaf(kid, len(path)-depth-1, true)
		default:
			continue
		}
		if err != nil || n != nil {
			return n, err
		}
	}
	return nil, nil
}

// edgeLeaf descends levels below n to its first (or last) descendant at
// that depth.
func (nv *navigator) edgeLeaf(n *graph.Node, levels int, last bool) (*graph.Node, error) {
	if levels == 0 {
		return n, nil
	}
	kids, err := nv.children(n)
	if err != nil {
		return nil, err
	}
	for i := range kids {
		kid := kids[i]
		if last {
			kid = kids[len(kids)-1-i]
		}
		leaf, err := nv.edgeLeaf(kid, levels-1, last)
		if err != nil || leaf != nil {
			return leaf, err
		}
	}
	return nil, nil
}

// walk returns the level chain from start to end inclusive.
func (nv *navigator) walk(start, end *graph.Node) ([]graph.Node, error) {
	var out []graph.Node
	cur := start
	for {
		out = append(out, *cur)
		if cur.ID == end.ID {
			return out, nil
		}
		next, err := nv.follow(cur.ID, graph.RelNext, graph.Outgoing)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("level chain ends at node %d before reaching node %d", cur.ID, end.ID)
		}
		cur = next
	}
}
