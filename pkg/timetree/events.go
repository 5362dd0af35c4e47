package timetree

import (
	"context"
	"fmt"
	"time"

	"timetree/pkg/graph"
)

// Event is an entity found attached to a tree node, with the relationship
// that attaches it.
type Event struct {
	Node             graph.Node
	RelationshipType string
	// Direction is the edge's direction seen from the tree node.
	Direction graph.Direction
}

// Attachment records one entity linked to a leaf.
type Attachment struct {
	Entity           graph.NodeID    `json:"entity"`
	Leaf             graph.NodeID    `json:"leaf"`
	RelationshipType string          `json:"relationshipType"`
	Direction        graph.Direction `json:"-"`
	At               time.Time       `json:"at"`
}

// EventFilter narrows QueryEvents. The zero value matches every
// non-structural relationship in either direction.
type EventFilter struct {
	RelationshipType string
	Direction        graph.Direction
}

func (f EventFilter) normalize() (EventFilter, error) {
	if f.Direction == 0 {
		f.Direction = graph.Both
	}
	if f.Direction < graph.Outgoing || f.Direction > graph.Both {
		return f, fmt.Errorf("%w: %v", ErrInvalidDirection, f.Direction)
	}
	if f.RelationshipType != "" {
		if err := ValidateRelationshipType(f.RelationshipType); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Attach links entity to the tree node leaf with relType in dir, where dir
// is seen from the tree node (INCOMING means entity → leaf).
func (t *TimeTree) Attach(ctx context.Context, entity, leaf graph.NodeID, relType string, dir graph.Direction) error {
	if err := validateAttach(entity, relType, dir); err != nil {
		return err
	}
	var a *Attachment
	err := t.update(ctx, "attach", func(tx graph.Tx) error {
		l, err := tx.Node(ctx, leaf)
		if err != nil {
			return fmt.Errorf("leaf %d: %w", leaf, err)
		}
		if _, ok := ResolutionForLabel(l.Label); !ok {
			return fmt.Errorf("%w: node %d is not a tree node", ErrValidation, leaf)
		}
		a, err = attach(ctx, tx, entity, l.ID, relType, dir)
		return err
	})
	if err != nil {
		return err
	}
	t.publish(a)
	return nil
}

// AttachAt links entity to the leaf for inst under root, creating the leaf
// if needed, and returns the leaf.
func (t *TimeTree) AttachAt(ctx context.Context, root Root, entity graph.NodeID, inst Instant, relType string, dir graph.Direction) (*graph.Node, error) {
	if err := validateAttach(entity, relType, dir); err != nil {
		return nil, err
	}
	path, err := inst.Path()
	if err != nil {
		return nil, err
	}
	var (
		leaf *graph.Node
		a    *Attachment
	)
	err = t.update(ctx, "attach", func(tx graph.Tx) error {
		nv, r, err := t.lockRoot(ctx, tx, root)
		if err != nil {
			return err
		}
		if leaf, err = nv.instant(r, path); err != nil {
			return err
		}
		a, err = attach(ctx, tx, entity, leaf.ID, relType, dir)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.publish(a)
	return leaf, nil
}

func validateAttach(entity graph.NodeID, relType string, dir graph.Direction) error {
	if entity <= 0 {
		return ErrMissingNode
	}
	if err := ValidateRelationshipType(relType); err != nil {
		return err
	}
	return validateAttachDirection(dir)
}

// attach creates the edge. Calling it twice creates two edges.
func attach(ctx context.Context, tx graph.Tx, entity, leaf graph.NodeID, relType string, dir graph.Direction) (*Attachment, error) {
	n, err := tx.Node(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("event node %d: %w", entity, err)
	}
	if _, isLevel := ResolutionForLabel(n.Label); isLevel || n.Label == RootLabel {
		return nil, fmt.Errorf("%w: node %d is part of a tree and cannot be an event", ErrValidation, entity)
	}

	from, to := entity, leaf
	if dir == graph.Outgoing {
		from, to = leaf, entity
	}
	if _, err := tx.CreateEdge(ctx, from, to, relType); err != nil {
		return nil, fmt.Errorf("attach %d to %d: %w", entity, leaf, err)
	}
	return &Attachment{Entity: entity, Leaf: leaf, RelationshipType: relType, Direction: dir, At: time.Now().UTC()}, nil
}

// attached reports whether entity already has a relType edge to leaf in dir.
func attached(ctx context.Context, tx graph.Tx, entity, leaf graph.NodeID, relType string, dir graph.Direction) (bool, error) {
	edges, err := tx.Edges(ctx, leaf, relType, dir)
	if err != nil {
		return false, err
	}
	for i := range edges {
		if edges[i].Other(leaf) == entity {
			return true, nil
		}
	}
	return false, nil
}

func (t *TimeTree) publish(attachments ...*Attachment) {
	for _, a := range attachments {
		if a == nil {
			continue
		}
		t.log.Debug("attached event", "entity", a.Entity, "leaf", a.Leaf, "type", a.RelationshipType, "direction", a.Direction)
		if t.bus != nil {
			t.bus.Publish(a)
		}
	}
}

// QueryEvents returns the events attached to the existing tree nodes between
// start and end, and to all of their descendants, in calendar order. Each
// (entity, relationship) pair yields one Event. It never creates nodes.
func (t *TimeTree) QueryEvents(ctx context.Context, root Root, start, end Instant, filter EventFilter) ([]Event, error) {
	from, to, err := rangePaths(start, end)
	if err != nil {
		return nil, err
	}
	if filter, err = filter.normalize(); err != nil {
		return nil, err
	}
	var events []Event
	err = t.store.View(ctx, func(tx graph.Tx) error {
		nodes, err := existingRange(ctx, tx, root, from, to)
		if err != nil {
			return err
		}
		c := &collector{nv: &navigator{ctx: ctx, tx: tx}, filter: filter, entities: map[graph.NodeID]*graph.Node{}}
		for i := range nodes {
			if err := c.collect(&nodes[i]); err != nil {
				return err
			}
		}
		events = c.events
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

type collector struct {
	nv       *navigator
	filter   EventFilter
	entities map[graph.NodeID]*graph.Node
	events   []Event
}

// collect appends events at n, then descends through its children in order.
func (c *collector) collect(n *graph.Node) error {
	edges, err := c.nv.tx.Edges(c.nv.ctx, n.ID, c.filter.RelationshipType, c.filter.Direction)
	if err != nil {
		return err
	}
	for i := range edges {
		e := &edges[i]
		if graph.IsStructural(e.Type) {
			continue
		}
		id := e.Other(n.ID)
		entity, ok := c.entities[id]
		if !ok {
			if entity, err = c.nv.node(id); err != nil {
				return err
			}
			c.entities[id] = entity
		}
		c.events = append(c.events, Event{Node: *entity, RelationshipType: e.Type, Direction: graph.DirectionOf(e, n.ID)})
	}
	kids, err := c.nv.children(n)
	if err != nil {
		return err
	}
	for _, kid := range kids {
		if err := c.collect(kid); err != nil {
			return err
		}
	}
	return nil
}
