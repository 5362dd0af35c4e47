package timetree

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"timetree/pkg/graph"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// backends opens a fresh store per backend.
func backends(t *testing.T) map[string]graph.Store {
	t.Helper()
	sq, err := graph.OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "tree.db"), 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]graph.Store{
		"memory": graph.NewMemStore(),
		"sqlite": sq,
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, s graph.Store)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func newTree(s graph.Store, opts ...Option) *TimeTree {
	return New(s, append([]Option{WithLogger(quiet)}, opts...)...)
}

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := ParseTimezone(name)
	if err != nil {
		t.Fatalf("ParseTimezone(%q): %v", name, err)
	}
	return loc
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func utc(y int, mo time.Month, d, h, mi, s int) int64 {
	return ms(time.Date(y, mo, d, h, mi, s, 0, time.UTC))
}

func at(millis int64, res Resolution) Instant {
	return Instant{Millis: millis, Location: time.UTC, Resolution: res}
}

func createEntity(t *testing.T, s graph.Store, label string, props map[string]any) graph.NodeID {
	t.Helper()
	var id graph.NodeID
	err := s.Update(context.Background(), func(tx graph.Tx) error {
		n, err := tx.CreateNode(context.Background(), label, props)
		if err != nil {
			return err
		}
		id = n.ID
		return nil
	})
	if err != nil {
		t.Fatalf("create %s: %v", label, err)
	}
	return id
}

func defaultRootID(t *testing.T, s graph.Store) graph.NodeID {
	t.Helper()
	var id graph.NodeID
	err := s.View(context.Background(), func(tx graph.Tx) error {
		r, err := DefaultRoot.Resolve(context.Background(), tx, false)
		if r != nil {
			id = r.ID
		}
		return err
	})
	if err != nil {
		t.Fatalf("resolve default root: %v", err)
	}
	return id
}

// treeSize counts tree nodes of every level.
func treeSize(t *testing.T, s graph.Store) int {
	t.Helper()
	total := 0
	err := s.View(context.Background(), func(tx graph.Tx) error {
		for _, r := range Resolutions() {
			nodes, err := tx.NodesByLabel(context.Background(), r.Label())
			if err != nil {
				return err
			}
			total += len(nodes)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("count nodes: %v", err)
	}
	return total
}

// checkTree verifies the ordering structure below root: every parent's
// FIRST/LAST/NEXT agree with its CHILD set sorted by value, and each level
// forms one ascending NEXT chain across parents.
func checkTree(t *testing.T, s graph.Store, root graph.NodeID) {
	t.Helper()
	ctx := context.Background()
	levels := map[int][]*graph.Node{}

	err := s.View(ctx, func(tx graph.Tx) error {
		next := func(id graph.NodeID, dir graph.Direction) graph.NodeID {
			e, err := tx.Edge(ctx, id, graph.RelNext, dir)
			if err != nil {
				t.Fatalf("NEXT of %d: %v", id, err)
			}
			if e == nil {
				return 0
			}
			return e.Other(id)
		}
		pointer := func(id graph.NodeID, relType string) graph.NodeID {
			e, err := tx.Edge(ctx, id, relType, graph.Outgoing)
			if err != nil {
				t.Fatalf("%s of %d: %v", relType, id, err)
			}
			if e == nil {
				return 0
			}
			return e.To
		}

		var visit func(n *graph.Node, depth int) error
		visit = func(n *graph.Node, depth int) error {
			edges, err := tx.Edges(ctx, n.ID, graph.RelChild, graph.Outgoing)
			if err != nil {
				return err
			}
			kids := make([]*graph.Node, 0, len(edges))
			for _, e := range edges {
				kid, err := tx.Node(ctx, e.To)
				if err != nil {
					return err
				}
				if kid.Parent != n.ID {
					t.Errorf("node %d has parent %d, reached from %d", kid.ID, kid.Parent, n.ID)
				}
				if want := Resolution(depth).Label(); kid.Label != want {
					t.Errorf("node %d at depth %d is a %s, want %s", kid.ID, depth+1, kid.Label, want)
				}
				kids = append(kids, kid)
			}
			sort.Slice(kids, func(i, j int) bool { return kids[i].ValueOr(0) < kids[j].ValueOr(0) })

			first, last := pointer(n.ID, graph.RelFirst), pointer(n.ID, graph.RelLast)
			if len(kids) == 0 {
				if first != 0 || last != 0 {
					t.Errorf("childless node %d has FIRST %d LAST %d", n.ID, first, last)
				}
				return nil
			}
			if first != kids[0].ID {
				t.Errorf("node %d FIRST = %d, want %d", n.ID, first, kids[0].ID)
			}
			if last != kids[len(kids)-1].ID {
				t.Errorf("node %d LAST = %d, want %d", n.ID, last, kids[len(kids)-1].ID)
			}
			for i := 1; i < len(kids); i++ {
				if kids[i-1].ValueOr(0) == kids[i].ValueOr(0) {
					t.Errorf("node %d has two children with value %d", n.ID, kids[i].ValueOr(0))
				}
				if got := next(kids[i-1].ID, graph.Outgoing); got != kids[i].ID {
					t.Errorf("NEXT of %d = %d, want %d", kids[i-1].ID, got, kids[i].ID)
				}
			}
			for _, kid := range kids {
				levels[depth] = append(levels[depth], kid)
				if err := visit(kid, depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		r, err := tx.Node(ctx, root)
		if err != nil {
			return err
		}
		if err := visit(r, 0); err != nil {
			return err
		}

		for depth, nodes := range levels {
			if prev := next(nodes[0].ID, graph.Incoming); prev != 0 {
				t.Errorf("level %d starts at %d but %d points at it", depth, nodes[0].ID, prev)
			}
			for i, n := range nodes {
				want := graph.NodeID(0)
				if i+1 < len(nodes) {
					want = nodes[i+1].ID
				}
				if got := next(n.ID, graph.Outgoing); got != want {
					t.Errorf("level %d: NEXT of %d = %d, want %d", depth, n.ID, got, want)
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("check tree: %v", err)
	}
}

// values returns each node's calendar value.
func values(nodes []graph.Node) []int {
	out := make([]int, len(nodes))
	for i := range nodes {
		out[i] = nodes[i].ValueOr(-1)
	}
	return out
}
