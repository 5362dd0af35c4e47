package graph

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stores returns every backend the contract tests run against. Postgres is
// included only when TIMETREE_TEST_DATABASE_URL is set.
func stores(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	all := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "graph.db"), 0)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("TIMETREE_TEST_DATABASE_URL"); url != "" {
		all["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, url)
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS graph_edges, graph_nodes`); err != nil {
				t.Fatalf("reset: %v", err)
			}
			s := NewPgStore(pool)
			if err := s.EnsureTables(ctx); err != nil {
				t.Fatalf("ensure tables: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return all
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func update(t *testing.T, s Store, fn func(tx Tx) error) {
	t.Helper()
	if err := s.Update(context.Background(), fn); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestStoreNodes(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var id NodeID
		update(t, s, func(tx Tx) error {
			n, err := tx.CreateNode(ctx, "Email", map[string]any{"subject": "hi", "timestamp": 1440416586000})
			if err != nil {
				return err
			}
			id = n.ID
			return nil
		})

		err := s.View(ctx, func(tx Tx) error {
			n, err := tx.Node(ctx, id)
			if err != nil {
				return err
			}
			if n.Label != "Email" || n.Parent != 0 || n.Value != nil {
				t.Errorf("node = %+v", n)
			}
			if n.Properties["subject"] != "hi" {
				t.Errorf("subject = %v", n.Properties["subject"])
			}
			// Timestamps must survive storage without float rounding.
			switch v := n.Properties["timestamp"].(type) {
			case int:
				if v != 1440416586000 {
					t.Errorf("timestamp = %d", v)
				}
			case json.Number:
				if v.String() != "1440416586000" {
					t.Errorf("timestamp = %s", v)
				}
			default:
				t.Errorf("timestamp has type %T", v)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		update(t, s, func(tx Tx) error {
			n, err := tx.SetProperties(ctx, id, map[string]any{"subject": nil, "read": true})
			if err != nil {
				return err
			}
			if _, ok := n.Properties["subject"]; ok {
				t.Error("nil value should remove the property")
			}
			if n.Properties["read"] != true {
				t.Errorf("read = %v", n.Properties["read"])
			}
			return nil
		})

		err = s.View(ctx, func(tx Tx) error {
			_, err := tx.Node(ctx, id+1000)
			return err
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing node: got %v, want ErrNotFound", err)
		}
	})
}

func TestStoreChildrenAreUnique(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var root NodeID
		update(t, s, func(tx Tx) error {
			n, err := tx.CreateNode(ctx, "TimeTreeRoot", nil)
			if err != nil {
				return err
			}
			root = n.ID
			_, err = tx.CreateChild(ctx, root, "Year", 2015)
			return err
		})

		err := s.Update(ctx, func(tx Tx) error {
			_, err := tx.CreateChild(ctx, root, "Year", 2015)
			return err
		})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("duplicate child: got %v, want ErrConflict", err)
		}

		err = s.View(ctx, func(tx Tx) error {
			edges, err := tx.Edges(ctx, root, RelChild, Outgoing)
			if err != nil {
				return err
			}
			if len(edges) != 1 {
				t.Errorf("CHILD edges = %d, want 1", len(edges))
			}
			kid, err := tx.Node(ctx, edges[0].To)
			if err != nil {
				return err
			}
			if kid.Parent != root || kid.ValueOr(-1) != 2015 || kid.Label != "Year" {
				t.Errorf("child = %+v", kid)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestStoreRollback(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var root NodeID
		update(t, s, func(tx Tx) error {
			n, err := tx.CreateNode(ctx, "TimeTreeRoot", nil)
			root = n.ID
			return err
		})

		boom := errors.New("boom")
		err := s.Update(ctx, func(tx Tx) error {
			y, err := tx.CreateChild(ctx, root, "Year", 2020)
			if err != nil {
				return err
			}
			if err := tx.SetEdge(ctx, root, y.ID, RelFirst); err != nil {
				return err
			}
			if _, err := tx.SetProperties(ctx, root, map[string]any{"touched": true}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}

		err = s.View(ctx, func(tx Tx) error {
			edges, err := tx.Edges(ctx, root, "", Both)
			if err != nil {
				return err
			}
			if len(edges) != 0 {
				t.Errorf("edges after rollback = %+v", edges)
			}
			n, err := tx.Node(ctx, root)
			if err != nil {
				return err
			}
			if _, ok := n.Properties["touched"]; ok {
				t.Error("property survived rollback")
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		// The rolled-back value can be created again.
		update(t, s, func(tx Tx) error {
			_, err := tx.CreateChild(ctx, root, "Year", 2020)
			return err
		})
	})
}

func TestStoreEdges(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var a, b, c NodeID
		update(t, s, func(tx Tx) error {
			for _, id := range []*NodeID{&a, &b, &c} {
				n, err := tx.CreateNode(ctx, "Thing", nil)
				if err != nil {
					return err
				}
				*id = n.ID
			}
			if _, err := tx.CreateEdge(ctx, a, b, "LIKES"); err != nil {
				return err
			}
			if _, err := tx.CreateEdge(ctx, c, a, "KNOWS"); err != nil {
				return err
			}
			return tx.SetEdge(ctx, a, b, RelNext)
		})

		// SetEdge replaces the previous target.
		update(t, s, func(tx Tx) error { return tx.SetEdge(ctx, a, c, RelNext) })

		err := s.View(ctx, func(tx Tx) error {
			type summary struct {
				From, To NodeID
				Type     string
			}
			collect := func(relType string, dir Direction) []summary {
				edges, err := tx.Edges(ctx, a, relType, dir)
				if err != nil {
					t.Fatalf("edges: %v", err)
				}
				var out []summary
				for _, e := range edges {
					out = append(out, summary{e.From, e.To, e.Type})
				}
				return out
			}

			want := []summary{{a, b, "LIKES"}, {c, a, "KNOWS"}, {a, c, RelNext}}
			if diff := cmp.Diff(want, collect("", Both)); diff != "" {
				t.Errorf("all edges (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]summary{{c, a, "KNOWS"}}, collect("", Incoming)); diff != "" {
				t.Errorf("incoming (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]summary{{a, b, "LIKES"}}, collect("LIKES", Outgoing)); diff != "" {
				t.Errorf("LIKES (-want +got):\n%s", diff)
			}

			next, err := tx.Edge(ctx, a, RelNext, Outgoing)
			if err != nil {
				return err
			}
			if next == nil || next.To != c {
				t.Errorf("NEXT = %+v, want -> %d", next, c)
			}
			if prev, err := tx.Edge(ctx, b, RelNext, Incoming); err != nil || prev != nil {
				t.Errorf("b incoming NEXT = %+v, %v; want none", prev, err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestViewIsReadOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.View(ctx, func(tx Tx) error {
			_, err := tx.CreateNode(ctx, "Thing", nil)
			return err
		})
		if !errors.Is(err, ErrReadOnly) {
			t.Fatalf("got %v, want ErrReadOnly", err)
		}
	})
}

func TestDirection(t *testing.T) {
	e := &Edge{From: 1, To: 2, Type: "AT_TIME"}
	tests := []struct {
		dir  Direction
		id   NodeID
		want bool
	}{
		{Outgoing, 1, true},
		{Outgoing, 2, false},
		{Incoming, 2, true},
		{Incoming, 1, false},
		{Both, 1, true},
		{Both, 2, true},
		{Both, 3, false},
	}
	for _, tt := range tests {
		if got := tt.dir.Matches(e, tt.id); got != tt.want {
			t.Errorf("%v.Matches(edge, %d) = %v, want %v", tt.dir, tt.id, got, tt.want)
		}
	}
	if DirectionOf(e, 2) != Incoming || DirectionOf(e, 1) != Outgoing {
		t.Error("DirectionOf is wrong")
	}
	if e.Other(1) != 2 || e.Other(2) != 1 {
		t.Error("Other is wrong")
	}

	for _, s := range []string{"incoming", " OUTGOING ", "Both"} {
		if _, err := ParseDirection(s); err != nil {
			t.Errorf("ParseDirection(%q): %v", s, err)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("ParseDirection(sideways) should fail")
	}
}
