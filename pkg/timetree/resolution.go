package timetree

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is a calendar granularity. Year is the coarsest.
type Resolution int

const (
	Year Resolution = iota
	Month
	Day
	Hour
	Minute
	Second
)

// DefaultResolution applies when a request names none.
const DefaultResolution = Day

var resolutionNames = [...]string{"Year", "Month", "Day", "Hour", "Minute", "Second"}

// Resolutions lists the ladder from Year down to Second.
func Resolutions() []Resolution {
	return []Resolution{Year, Month, Day, Hour, Minute, Second}
}

func (r Resolution) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
	return resolutionNames[r]
}

// Label is the node label used for tree nodes at this level.
func (r Resolution) Label() string { return r.String() }

// Valid reports whether r is a member of the ladder.
func (r Resolution) Valid() bool {
	return r >= Year && r <= Second
}

// Depth is the number of levels from Year down to r, inclusive.
func (r Resolution) Depth() int { return int(r) + 1 }

// Child returns the next finer resolution.
func (r Resolution) Child() (Resolution, bool) {
	if !r.Valid() || r == Second {
		return 0, false
	}
	return r + 1, true
}

// ParseResolution parses a resolution name case-insensitively. An empty
// string yields DefaultResolution.
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultResolution, nil
	}
	for i, name := range resolutionNames {
		if strings.EqualFold(s, name) {
			return Resolution(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
}

// ResolutionForLabel maps a tree node label back to its resolution.
func ResolutionForLabel(label string) (Resolution, bool) {
	for i, name := range resolutionNames {
		if label == name {
			return Resolution(i), true
		}
	}
	return 0, false
}

// field extracts this level's calendar field from a zone-local time.
func (r Resolution) field(t time.Time) int {
	switch r {
	case Year:
		return t.Year()
	case Month:
		return int(t.Month())
	case Day:
		return t.Day()
	case Hour:
		return t.Hour()
	case Minute:
		return t.Minute()
	case Second:
		return t.Second()
	}
	panic(fmt.Sprintf("timetree: field of %v", r))
}

// bounds returns the inclusive range of valid values at r, given the
// enclosing year and month (only Day depends on them).
func (r Resolution) bounds(year, month int) (lo, hi int) {
	switch r {
	case Year:
		return 1, 9999
	case Month:
		return 1, 12
	case Day:
		return 1, daysIn(year, time.Month(month))
	case Hour:
		return 0, 23
	default:
		return 0, 59
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
