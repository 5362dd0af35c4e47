package timetree

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"timetree/pkg/graph"
)

// Index attaches entity according to the configured bindings: for every
// binding whose property holds a timestamp, the entity is linked to the leaf
// for that timestamp at the configured resolution and timezone. The root is
// the node named by the entity's root property, or the default root.
//
// Bindings whose edge already exists are skipped, so re-indexing an entity
// after its properties change only adds what is new.
func (t *TimeTree) Index(ctx context.Context, entity graph.NodeID) ([]Attachment, error) {
	if entity <= 0 {
		return nil, ErrMissingNode
	}
	var created []*Attachment
	err := t.update(ctx, "index", func(tx graph.Tx) error {
		n, err := tx.Node(ctx, entity)
		if err != nil {
			return fmt.Errorf("event node %d: %w", entity, err)
		}
		created, err = t.index(ctx, tx, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.publish(created...)
	return copyAttachments(created), nil
}

// index attaches n by the configured bindings inside tx. The root is
// locked only when some binding holds a timestamp.
func (t *TimeTree) index(ctx context.Context, tx graph.Tx, n *graph.Node) ([]*Attachment, error) {
	root, err := t.rootOf(n)
	if err != nil {
		return nil, err
	}

	var (
		created []*Attachment
		nv      *navigator
		r       *graph.Node
	)
	for _, b := range t.cfg.bindings {
		raw, ok := n.Properties[b.Property]
		if !ok || raw == nil {
			continue
		}
		millis, err := Millis(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: property %q of node %d: %v", ErrValidation, b.Property, n.ID, err)
		}
		path, err := t.cfg.Instant(millis).Path()
		if err != nil {
			return nil, err
		}
		if nv == nil {
			if nv, r, err = t.lockRoot(ctx, tx, root); err != nil {
				return nil, err
			}
		}
		leaf, err := nv.instant(r, path)
		if err != nil {
			return nil, err
		}
		done, err := attached(ctx, tx, n.ID, leaf.ID, b.RelationshipType, t.cfg.direction)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		a, err := attach(ctx, tx, n.ID, leaf.ID, b.RelationshipType, t.cfg.direction)
		if err != nil {
			return nil, err
		}
		created = append(created, a)
	}
	return created, nil
}

func copyAttachments(attachments []*Attachment) []Attachment {
	out := make([]Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = *a
	}
	return out
}

// rootOf picks the root named by n's root property, or the default root.
func (t *TimeTree) rootOf(n *graph.Node) (Root, error) {
	if t.cfg.rootProperty == "" {
		return DefaultRoot, nil
	}
	raw, ok := n.Properties[t.cfg.rootProperty]
	if !ok || raw == nil {
		return DefaultRoot, nil
	}
	id, err := Millis(raw)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: property %q of node %d is not a node id", ErrValidation, t.cfg.rootProperty, n.ID)
	}
	return CustomRoot(id), nil
}

// Millis converts a stored property value to an integer. Stores hand back
// numbers as int64, float64 or json.Number depending on the backend.
func Millis(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is out of range", x)
		}
		return int64(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x.String())
		}
		return Millis(f)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
