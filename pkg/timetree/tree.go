package timetree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"timetree/pkg/graph"
)

// TimeTree maintains calendar trees over a graph store and attaches events
// to their leaves. It is safe for concurrent use; writers under the same
// root are serialized by a lock on the root node.
type TimeTree struct {
	store graph.Store
	cfg   Config
	log   *slog.Logger
	bus   *Bus
}

// Option configures a TimeTree.
type Option func(*TimeTree)

func WithConfig(cfg Config) Option {
	return func(t *TimeTree) { t.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *TimeTree) { t.log = l }
}

// WithBus publishes every committed attachment on b.
func WithBus(b *Bus) Option {
	return func(t *TimeTree) { t.bus = b }
}

// New creates a TimeTree over store.
func New(store graph.Store, opts ...Option) *TimeTree {
	t := &TimeTree{
		store: store,
		cfg:   DefaultConfig(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("component", "timetree")
	return t
}

func (t *TimeTree) Config() Config      { return t.cfg }
func (t *TimeTree) Store() graph.Store { return t.store }
func (t *TimeTree) Bus() *Bus          { return t.bus }

// update runs fn in a write transaction, retrying on ErrConflict. fn must
// not keep state between attempts.
func (t *TimeTree) update(ctx context.Context, op string, fn func(graph.Tx) error) error {
	attempts := t.cfg.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = t.store.Update(ctx, fn)
		if !errors.Is(err, graph.ErrConflict) {
			return err
		}
		t.log.Debug("write conflict", "op", op, "attempt", attempt, "err", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
		}
	}
	t.log.Warn("giving up after repeated conflicts", "op", op, "attempts", attempts)
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, attempts, err)
}

// GetOrCreateInstant returns the tree node for inst under root, creating it
// and any missing ancestors. Repeated calls return the same node.
func (t *TimeTree) GetOrCreateInstant(ctx context.Context, root Root, inst Instant) (*graph.Node, error) {
	path, err := inst.Path()
	if err != nil {
		return nil, err
	}

	// Most calls hit nodes that already exist; look them up without the lock.
	var node *graph.Node
	err = t.store.View(ctx, func(tx graph.Tx) error {
		r, err := root.Resolve(ctx, tx, false)
		if err != nil || r == nil {
			return err
		}
		node, err = (&navigator{ctx: ctx, tx: tx}).find(r, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	if node != nil {
		return node, nil
	}

	var created int
	err = t.update(ctx, "get or create instant", func(tx graph.Tx) error {
		nv, r, err := t.lockRoot(ctx, tx, root)
		if err != nil {
			return err
		}
		node, err = nv.instant(r, path)
		created = nv.created
		return err
	})
	if err != nil {
		return nil, err
	}
	if created > 0 {
		t.log.Debug("created tree nodes", "path", path.String(), "root", root, "created", created)
	}
	return node, nil
}

// GetInstant returns the tree node for inst under root, or nil when it does
// not exist. It never creates nodes.
func (t *TimeTree) GetInstant(ctx context.Context, root Root, inst Instant) (*graph.Node, error) {
	path, err := inst.Path()
	if err != nil {
		return nil, err
	}
	var node *graph.Node
	err = t.store.View(ctx, func(tx graph.Tx) error {
		r, err := root.Resolve(ctx, tx, false)
		if err != nil || r == nil {
			return err
		}
		node, err = (&navigator{ctx: ctx, tx: tx}).find(r, path)
		return err
	})
	return node, err
}

// Now is GetOrCreateInstant for the current time.
func (t *TimeTree) Now(ctx context.Context, root Root, loc *time.Location, res Resolution) (*graph.Node, error) {
	return t.GetOrCreateInstant(ctx, root, Instant{Millis: time.Now().UnixMilli(), Location: loc, Resolution: res})
}

// lockRoot resolves root for writing and takes the tree lock.
func (t *TimeTree) lockRoot(ctx context.Context, tx graph.Tx, root Root) (*navigator, *graph.Node, error) {
	r, err := root.Resolve(ctx, tx, true)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Lock(ctx, r.ID); err != nil {
		return nil, nil, fmt.Errorf("lock root %d: %w", r.ID, err)
	}
	return &navigator{ctx: ctx, tx: tx}, r, nil
}
