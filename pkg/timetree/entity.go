package timetree

import (
	"context"
	"fmt"

	"timetree/pkg/graph"
)

// ValidateEntityLabel rejects empty labels and the labels reserved for tree
// nodes.
func ValidateEntityLabel(label string) error {
	if label == "" {
		return fmt.Errorf("%w: a label is required", ErrValidation)
	}
	if _, isLevel := ResolutionForLabel(label); isLevel || label == RootLabel {
		return fmt.Errorf("%w: label %q is reserved for the tree", ErrValidation, label)
	}
	return nil
}

// CreateEntity stores a new entity and, when index is set, attaches it by the
// configured bindings in the same transaction. If indexing fails nothing is
// stored.
func (t *TimeTree) CreateEntity(ctx context.Context, label string, props map[string]any, index bool) (*graph.Node, []Attachment, error) {
	if err := ValidateEntityLabel(label); err != nil {
		return nil, nil, err
	}
	var (
		n       *graph.Node
		created []*Attachment
	)
	err := t.update(ctx, "create entity", func(tx graph.Tx) error {
		var err error
		if n, err = tx.CreateNode(ctx, label, props); err != nil {
			return fmt.Errorf("create node: %w", err)
		}
		created = nil
		if index {
			created, err = t.index(ctx, tx, n)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	t.publish(created...)
	return n, copyAttachments(created), nil
}

// UpdateEntity merges props into an entity (a nil value removes the
// property) and, when index is set, re-indexes it in the same transaction.
func (t *TimeTree) UpdateEntity(ctx context.Context, id graph.NodeID, props map[string]any, index bool) (*graph.Node, []Attachment, error) {
	if id <= 0 {
		return nil, nil, ErrMissingNode
	}
	var (
		n       *graph.Node
		created []*Attachment
	)
	err := t.update(ctx, "update entity", func(tx graph.Tx) error {
		cur, err := tx.Node(ctx, id)
		if err != nil {
			return fmt.Errorf("node %d: %w", id, err)
		}
		if err := ValidateEntityLabel(cur.Label); err != nil {
			return err
		}
		if n, err = tx.SetProperties(ctx, id, props); err != nil {
			return fmt.Errorf("set properties: %w", err)
		}
		created = nil
		if index {
			created, err = t.index(ctx, tx, n)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	t.publish(created...)
	return n, copyAttachments(created), nil
}

// AttachNew creates an entity and attaches it to the leaf for inst under
// root in one transaction. It returns the entity and the leaf.
func (t *TimeTree) AttachNew(ctx context.Context, root Root, label string, props map[string]any, inst Instant, relType string, dir graph.Direction) (*graph.Node, *graph.Node, error) {
	if err := ValidateEntityLabel(label); err != nil {
		return nil, nil, err
	}
	if err := ValidateRelationshipType(relType); err != nil {
		return nil, nil, err
	}
	if err := validateAttachDirection(dir); err != nil {
		return nil, nil, err
	}
	path, err := inst.Path()
	if err != nil {
		return nil, nil, err
	}
	var (
		entity, leaf *graph.Node
		a            *Attachment
	)
	err = t.update(ctx, "attach new", func(tx graph.Tx) error {
		nv, r, err := t.lockRoot(ctx, tx, root)
		if err != nil {
			return err
		}
		if entity, err = tx.CreateNode(ctx, label, props); err != nil {
			return fmt.Errorf("create node: %w", err)
		}
		if leaf, err = nv.instant(r, path); err != nil {
			return err
		}
		a, err = attach(ctx, tx, entity.ID, leaf.ID, relType, dir)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	t.publish(a)
	return entity, leaf, nil
}
