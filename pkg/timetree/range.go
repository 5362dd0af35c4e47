package timetree

import (
	"context"
	"fmt"
	"slices"

	"timetree/pkg/graph"
)

// rangePaths validates a range and returns its normalized bounds.
func rangePaths(start, end Instant) (Path, Path, error) {
	if start.Resolution != end.Resolution {
		return nil, nil, fmt.Errorf("%w: start resolution %v differs from end resolution %v", ErrInvalidRange, start.Resolution, end.Resolution)
	}
	if start.Millis > end.Millis {
		return nil, nil, fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, start.Millis, end.Millis)
	}
	from, err := start.Path()
	if err != nil {
		return nil, nil, err
	}
	to, err := end.Path()
	if err != nil {
		return nil, nil, err
	}
	// Millis are ordered but the wall clock is not: the range spans a
	// daylight-saving fall-back (or the bounds use different zones) and ends
	// on a calendar value the tree orders before its start.
	if from.Compare(to) > 0 {
		return nil, nil, fmt.Errorf("%w: wall-clock start %s is after end %s though %d <= %d", ErrInvalidRange, from, to, start.Millis, end.Millis)
	}
	return from, to, nil
}

// GetOrCreateRange creates the nodes for start and end and returns every
// existing node between them inclusive, in calendar order. Values in between
// that never had a node stay absent.
func (t *TimeTree) GetOrCreateRange(ctx context.Context, root Root, start, end Instant) ([]graph.Node, error) {
	from, to, err := rangePaths(start, end)
	if err != nil {
		return nil, err
	}
	var nodes []graph.Node
	err = t.update(ctx, "get or create range", func(tx graph.Tx) error {
		nv, r, err := t.lockRoot(ctx, tx, root)
		if err != nil {
			return err
		}
		first, err := nv.instant(r, from)
		if err != nil {
			return err
		}
		last, err := nv.instant(r, to)
		if err != nil {
			return err
		}
		nodes, err = nv.walk(first, last)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetRange returns the existing tree nodes between start and end inclusive,
// in calendar order. It never creates nodes; an empty stretch yields nil.
func (t *TimeTree) GetRange(ctx context.Context, root Root, start, end Instant) ([]graph.Node, error) {
	from, to, err := rangePaths(start, end)
	if err != nil {
		return nil, err
	}
	var nodes []graph.Node
	err = t.store.View(ctx, func(tx graph.Tx) error {
		var err error
		nodes, err = existingRange(ctx, tx, root, from, to)
		return err
	})
	return nodes, err
}

func existingRange(ctx context.Context, tx graph.Tx, root Root, from, to Path) ([]graph.Node, error) {
	r, err := root.Resolve(ctx, tx, false)
	if err != nil || r == nil {
		return nil, err
	}
	nv := &navigator{ctx: ctx, tx: tx}
	lo, err := nv.ceiling(r, from, 0)
	if err != nil || lo == nil {
		return nil, err
	}
	hi, err := nv.floor(r, to, 0)
	if err != nil || hi == nil {
		return nil, err
	}
	loPath, err := nv.pathOf(lo)
	if err != nil {
		return nil, err
	}
	hiPath, err := nv.pathOf(hi)
	if err != nil {
		return nil, err
	}
	if slices.Compare(loPath, hiPath) > 0 {
		return nil, nil
	}
	return nv.walk(lo, hi)
}
