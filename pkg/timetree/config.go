package timetree

import (
	"fmt"
	"regexp"
	"time"

	"timetree/pkg/graph"
)

// Defaults mirror a freshly installed tree.
const (
	DefaultRelationshipType  = "AT_TIME"
	DefaultTimestampProperty = "timestamp"
	DefaultRootProperty      = "timeTreeRootId"
	DefaultMaxAttempts       = 5
)

// Binding maps a timestamp property of an entity to the relationship type
// used to attach it.
type Binding struct {
	Property         string
	RelationshipType string
}

// Config is an immutable description of how events are attached. Copy it
// with the With* methods; a Config is never mutated in place.
type Config struct {
	resolution   Resolution
	location     *time.Location
	relType      string
	direction    graph.Direction
	rootProperty string
	bindings     []Binding
	autoAttach   bool
	maxAttempts  int
}

// DefaultConfig attaches at Day resolution in UTC via INCOMING AT_TIME edges
// read from the "timestamp" property.
func DefaultConfig() Config {
	return Config{
		resolution:   DefaultResolution,
		location:     time.UTC,
		relType:      DefaultRelationshipType,
		direction:    graph.Incoming,
		rootProperty: DefaultRootProperty,
		bindings:     []Binding{{Property: DefaultTimestampProperty, RelationshipType: DefaultRelationshipType}},
		maxAttempts:  DefaultMaxAttempts,
	}
}

func (c Config) Resolution() Resolution       { return c.resolution }
func (c Config) Location() *time.Location     { return c.location }
func (c Config) RelationshipType() string     { return c.relType }
func (c Config) Direction() graph.Direction   { return c.direction }
func (c Config) RootProperty() string         { return c.rootProperty }
func (c Config) AutoAttach() bool             { return c.autoAttach }
func (c Config) MaxAttempts() int             { return c.maxAttempts }
func (c Config) Bindings() []Binding          { return append([]Binding(nil), c.bindings...) }
func (c Config) Instant(millis int64) Instant { return Instant{Millis: millis, Location: c.location, Resolution: c.resolution} }

func (c Config) WithResolution(r Resolution) (Config, error) {
	if !r.Valid() {
		return c, fmt.Errorf("%w: %v", ErrInvalidResolution, r)
	}
	c.resolution = r
	return c, nil
}

func (c Config) WithLocation(loc *time.Location) (Config, error) {
	if loc == nil {
		return c, fmt.Errorf("%w: no location", ErrInvalidTimezone)
	}
	c.location = loc
	return c, nil
}

// WithRelationshipType changes the default relationship type. Bindings that
// used the previous default follow it.
func (c Config) WithRelationshipType(relType string) (Config, error) {
	if err := ValidateRelationshipType(relType); err != nil {
		return c, err
	}
	bindings := make([]Binding, len(c.bindings))
	for i, b := range c.bindings {
		if b.RelationshipType == c.relType {
			b.RelationshipType = relType
		}
		bindings[i] = b
	}
	c.bindings = bindings
	c.relType = relType
	return c, nil
}

func (c Config) WithDirection(d graph.Direction) (Config, error) {
	if err := validateAttachDirection(d); err != nil {
		return c, err
	}
	c.direction = d
	return c, nil
}

// WithTimestampProperty replaces the bindings with a single binding of
// property to the default relationship type.
func (c Config) WithTimestampProperty(property string) (Config, error) {
	return c.WithBindings([]Binding{{Property: property, RelationshipType: c.relType}})
}

func (c Config) WithBindings(bindings []Binding) (Config, error) {
	if len(bindings) == 0 {
		return c, fmt.Errorf("%w: at least one timestamp binding is required", ErrValidation)
	}
	out := make([]Binding, len(bindings))
	for i, b := range bindings {
		if b.Property == "" {
			return c, fmt.Errorf("%w: binding %d has no property", ErrValidation, i)
		}
		if b.RelationshipType == "" {
			b.RelationshipType = c.relType
		}
		if err := ValidateRelationshipType(b.RelationshipType); err != nil {
			return c, err
		}
		out[i] = b
	}
	c.bindings = out
	return c, nil
}

func (c Config) WithRootProperty(property string) Config {
	c.rootProperty = property
	return c
}

func (c Config) WithAutoAttach(on bool) Config {
	c.autoAttach = on
	return c
}

func (c Config) WithMaxAttempts(n int) Config {
	if n < 1 {
		n = 1
	}
	c.maxAttempts = n
	return c
}

var relTypePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateRelationshipType rejects empty, malformed and tree-internal types.
func ValidateRelationshipType(relType string) error {
	if relType == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidRelationship)
	}
	if !relTypePattern.MatchString(relType) {
		return fmt.Errorf("%w: %q", ErrInvalidRelationship, relType)
	}
	if graph.IsStructural(relType) {
		return fmt.Errorf("%w: %q is reserved for the tree", ErrInvalidRelationship, relType)
	}
	return nil
}

func validateAttachDirection(d graph.Direction) error {
	if d != graph.Incoming && d != graph.Outgoing {
		return fmt.Errorf("%w: %v, must be INCOMING or OUTGOING", ErrInvalidDirection, d)
	}
	return nil
}

// ParseAttachDirection parses INCOMING or OUTGOING.
func ParseAttachDirection(s string) (graph.Direction, error) {
	d, err := graph.ParseDirection(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
	if err := validateAttachDirection(d); err != nil {
		return 0, err
	}
	return d, nil
}

// ParseQueryDirection parses INCOMING, OUTGOING or BOTH; empty means BOTH.
func ParseQueryDirection(s string) (graph.Direction, error) {
	if s == "" {
		return graph.Both, nil
	}
	d, err := graph.ParseDirection(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
	return d, nil
}
