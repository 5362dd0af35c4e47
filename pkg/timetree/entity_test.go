package timetree

import (
	"context"
	"errors"
	"testing"

	"timetree/pkg/graph"
)

// nodeCount counts the nodes carrying any of labels.
func nodeCount(t *testing.T, s graph.Store, labels ...string) int {
	t.Helper()
	total := 0
	err := s.View(context.Background(), func(tx graph.Tx) error {
		for _, l := range labels {
			nodes, err := tx.NodesByLabel(context.Background(), l)
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

func TestCreateEntityIndexes(t *testing.T) {
	eachBackend(t, func(t *testing.T, s graph.Store) {
		ctx := context.Background()
		tree := newTree(s)
		ts := utc(2021, 6, 3, 8, 0, 0)

		n, attached, err := tree.CreateEntity(ctx, "Note", map[string]any{"timestamp": ts}, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(attached) != 1 || attached[0].Entity != n.ID {
			t.Fatalf("attached = %+v", attached)
		}
		day := at(ts, Day)
		events, err := tree.QueryEvents(ctx, DefaultRoot, day, day, EventFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].Node.ID != n.ID {
			t.Errorf("events = %+v", events)
		}

		plain, attached, err := tree.CreateEntity(ctx, "Note", map[string]any{"timestamp": ts}, false)
		if err != nil || len(attached) != 0 || plain.ID == 0 {
			t.Errorf("CreateEntity without index = %+v, %v, %v", plain, attached, err)
		}
	})
}

func TestFailedIndexRollsBackEntity(t *testing.T) {
	eachBackend(t, func(t *testing.T, s graph.Store) {
		ctx := context.Background()
		tree := newTree(s)
		ts := utc(2021, 6, 3, 8, 0, 0)

		if _, _, err := tree.CreateEntity(ctx, "Item", map[string]any{"timestamp": "not-a-time"}, true); !IsValidation(err) {
			t.Errorf("bad timestamp: %v", err)
		}
		if _, _, err := tree.CreateEntity(ctx, "Item", map[string]any{"timestamp": ts, "timeTreeRootId": int64(999)}, true); !IsNotFound(err) {
			t.Errorf("unknown root: %v", err)
		}
		if _, _, err := tree.AttachNew(ctx, CustomRoot(999), "Mail", nil, at(ts, Day), "Created", graph.Incoming); !IsNotFound(err) {
			t.Errorf("AttachNew under unknown root: %v", err)
		}
		if n := nodeCount(t, s, "Item", "Mail"); n != 0 {
			t.Errorf("%d entities stored by failed writes", n)
		}
		if n := treeSize(t, s); n != 0 {
			t.Errorf("%d tree nodes created by failed writes", n)
		}

		item := createEntity(t, s, "Item", map[string]any{"subject": "kept"})
		for _, props := range []map[string]any{
			{"timeTreeRootId": int64(424242), "timestamp": ts},
			{"subject": "lost", "timestamp": "soon"},
		} {
			if _, _, err := tree.UpdateEntity(ctx, item, props, true); err == nil {
				t.Errorf("UpdateEntity(%v) succeeded", props)
			}
		}
		var got *graph.Node
		err := s.View(ctx, func(tx graph.Tx) error {
			var err error
			got, err = tx.Node(ctx, item)
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Properties) != 1 || got.Properties["subject"] != "kept" {
			t.Errorf("properties after rejected updates = %v", got.Properties)
		}
	})
}

func TestEntityLabels(t *testing.T) {
	ctx := context.Background()
	s := graph.NewMemStore()
	tree := newTree(s)
	day := tree.Config().Instant(utc(2021, 6, 3, 8, 0, 0))

	for _, label := range []string{"", "Year", "Second", RootLabel} {
		if err := ValidateEntityLabel(label); !IsValidation(err) {
			t.Errorf("ValidateEntityLabel(%q) = %v", label, err)
		}
		if _, _, err := tree.CreateEntity(ctx, label, nil, false); !IsValidation(err) {
			t.Errorf("CreateEntity(%q) = %v", label, err)
		}
		if _, _, err := tree.AttachNew(ctx, DefaultRoot, label, nil, day, "Created", graph.Incoming); !IsValidation(err) {
			t.Errorf("AttachNew(%q) = %v", label, err)
		}
	}
	if _, _, err := tree.AttachNew(ctx, DefaultRoot, "Mail", nil, day, graph.RelChild, graph.Incoming); !errors.Is(err, ErrInvalidRelationship) {
		t.Errorf("AttachNew with structural type = %v", err)
	}
	if _, _, err := tree.UpdateEntity(ctx, 0, nil, false); !errors.Is(err, ErrMissingNode) {
		t.Errorf("UpdateEntity(0) = %v", err)
	}
	if n := s.NodeCount(); n != 0 {
		t.Errorf("%d nodes after rejected calls", n)
	}

	leaf, err := tree.GetOrCreateInstant(ctx, DefaultRoot, day)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := tree.UpdateEntity(ctx, leaf.ID, map[string]any{"x": 1}, false); !IsValidation(err) {
		t.Errorf("UpdateEntity on a tree node = %v", err)
	}
}
