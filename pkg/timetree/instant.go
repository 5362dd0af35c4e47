package timetree

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instant is an absolute time (epoch milliseconds) read in a timezone at a
// resolution. Normalizing the same Instant always yields the same Path.
type Instant struct {
	Millis     int64
	Location   *time.Location
	Resolution Resolution
}

// NewInstant builds an Instant from request-style strings. Empty timezone
// means UTC and empty resolution means DefaultResolution.
func NewInstant(millis int64, timezone, resolution string) (Instant, error) {
	loc, err := ParseTimezone(timezone)
	if err != nil {
		return Instant{}, err
	}
	res, err := ParseResolution(resolution)
	if err != nil {
		return Instant{}, err
	}
	return Instant{Millis: millis, Location: loc, Resolution: res}, nil
}

// Time returns the instant in its own location.
func (i Instant) Time() time.Time {
	return time.UnixMilli(i.Millis).In(i.Location)
}

// Path normalizes the instant.
func (i Instant) Path() (Path, error) {
	return Normalize(i.Millis, i.Location, i.Resolution)
}

func (i Instant) String() string {
	if i.Location == nil {
		return fmt.Sprintf("%d@?/%v", i.Millis, i.Resolution)
	}
	return fmt.Sprintf("%d@%s/%v", i.Millis, i.Location, i.Resolution)
}

// Field is one calendar field of a Path.
type Field struct {
	Resolution Resolution
	Value      int
}

// Path is the ordered list of calendar fields from Year down to a target
// resolution.
type Path []Field

// Normalize decomposes millis, read in loc, into calendar fields from Year
// down to res inclusive.
//
// Only years 1 through 9999 are supported; an instant whose local year falls
// outside them fails with ErrInvalidValue.
func Normalize(millis int64, loc *time.Location, res Resolution) (Path, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolution, res)
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: no location", ErrInvalidTimezone)
	}
	t := time.UnixMilli(millis).In(loc)
	path := make(Path, 0, res.Depth())
	for r := Year; r <= res; r++ {
		path = append(path, Field{Resolution: r, Value: r.field(t)})
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return path, nil
}

// Resolution is the level of the path's last field.
func (p Path) Resolution() Resolution {
	if len(p) == 0 {
		return -1
	}
	return p[len(p)-1].Resolution
}

// Validate checks that the path walks the ladder from Year and that every
// value lies within its level's calendar bounds.
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidValue)
	}
	year, month := 0, 1
	for i, f := range p {
		if f.Resolution != Resolution(i) {
			return fmt.Errorf("%w: field %d is %v, want %v", ErrInvalidResolution, i, f.Resolution, Resolution(i))
		}
		lo, hi := f.Resolution.bounds(year, month)
		if f.Value < lo || f.Value > hi {
			return fmt.Errorf("%w: %v %d not in [%d, %d]", ErrInvalidValue, f.Resolution, f.Value, lo, hi)
		}
		switch f.Resolution {
		case Year:
			year = f.Value
		case Month:
			month = f.Value
		}
	}
	return nil
}

// Compare orders paths of equal length lexicographically.
func (p Path) Compare(q Path) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		switch {
		case p[i].Value < q[i].Value:
			return -1
		case p[i].Value > q[i].Value:
			return 1
		}
	}
	return len(p) - len(q)
}

// Values returns the bare calendar values.
func (p Path) Values() []int {
	out := make([]int, len(p))
	for i, f := range p {
		out[i] = f.Value
	}
	return out
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, f := range p {
		parts[i] = strconv.Itoa(f.Value)
	}
	return strings.Join(parts, "/")
}

// ParseTimezone resolves an IANA zone name, UTC/GMT/Z, or a fixed offset such
// as GMT+11, UTC-05:30 or +0100. A space standing in for '+' (query-string
// decoding of "GMT+11") is read as '+'. Empty means UTC.
func ParseTimezone(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "UTC", "GMT", "Z":
		return time.UTC, nil
	}
	upper := strings.ToUpper(s)
	for _, prefix := range []string{"UTC", "GMT"} {
		if strings.HasPrefix(upper, prefix) {
			if loc, ok := fixedZone(s[len(prefix):]); ok {
				return loc, nil
			}
			return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, s)
		}
	}
	if loc, ok := fixedZone(s); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, s)
	}
	return loc, nil
}

func fixedZone(off string) (*time.Location, bool) {
	if off == "" {
		return nil, false
	}
	sign := 1
	switch off[0] {
	case '+', ' ':
	case '-':
		sign = -1
	default:
		return nil, false
	}
	off = strings.TrimSpace(off[1:])

	var hh, mm string
	switch {
	case strings.Contains(off, ":"):
		hh, mm, _ = strings.Cut(off, ":")
	case len(off) > 2:
		hh, mm = off[:len(off)-2], off[len(off)-2:]
	default:
		hh, mm = off, "0"
	}
	if !digits(hh) || len(hh) > 2 || !digits(mm) || len(mm) > 2 {
		return nil, false
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if h > 18 || m > 59 {
		return nil, false
	}
	secs := sign * (h*3600 + m*60)
	name := fmt.Sprintf("GMT%c%02d:%02d", "-+"[(sign+1)/2], h, m)
	return time.FixedZone(name, secs), true
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
