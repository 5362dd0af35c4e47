package timetree

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	const created = 1440416586000 // 2015-08-24T11:43:06Z

	tests := []struct {
		name string
		tz   string
		res  Resolution
		want []int
	}{
		{"utc year", "UTC", Year, []int{2015}},
		{"utc day", "UTC", Day, []int{2015, 8, 24}},
		{"utc second", "UTC", Second, []int{2015, 8, 24, 11, 43, 6}},
		{"gmt+11 second", "GMT+11", Second, []int{2015, 8, 24, 22, 43, 6}},
		{"gmt-12 day rolls back", "GMT-12", Day, []int{2015, 8, 23}},
		{"named zone", "Australia/Sydney", Hour, []int{2015, 8, 24, 21}},
		{"half hour offset", "UTC+05:30", Minute, []int{2015, 8, 24, 17, 13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := mustZone(t, tt.tz)
			path, err := Normalize(created, loc, tt.res)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if diff := cmp.Diff(tt.want, path.Values()); diff != "" {
				t.Errorf("values (-want +got):\n%s", diff)
			}
			if path.Resolution() != tt.res {
				t.Errorf("resolution = %v, want %v", path.Resolution(), tt.res)
			}
			for i, f := range path {
				if f.Resolution != Resolution(i) {
					t.Errorf("field %d is %v", i, f.Resolution)
				}
			}
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	loc := mustZone(t, "Europe/London")
	a, err := Normalize(1700000000123, loc, Second)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Normalize(1700000000123, loc, Second)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("two normalizations differ:\n%s", diff)
	}
}

func TestNormalizeRejects(t *testing.T) {
	if _, err := Normalize(0, time.UTC, Resolution(9)); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("bad resolution: got %v", err)
	}
	if _, err := Normalize(0, nil, Day); !errors.Is(err, ErrInvalidTimezone) {
		t.Errorf("nil location: got %v", err)
	}
	if !errors.Is(ErrInvalidTimezone, ErrValidation) {
		t.Error("ErrInvalidTimezone should be a validation error")
	}
}

func TestNormalizeYearBounds(t *testing.T) {
	for _, tt := range []struct {
		when time.Time
		loc  *time.Location
	}{
		{time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC},
		{time.Date(0, 12, 31, 23, 0, 0, 0, time.UTC), time.UTC},
		{time.Date(9999, 12, 31, 23, 0, 0, 0, time.UTC), time.FixedZone("UTC+2", 2*3600)},
	} {
		if _, err := Normalize(tt.when.UnixMilli(), tt.loc, Day); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("Normalize(%v in %v) = %v, want ErrInvalidValue", tt.when, tt.loc, err)
		}
	}
	for _, when := range []time.Time{
		time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		if _, err := Normalize(when.UnixMilli(), time.UTC, Second); err != nil {
			t.Errorf("Normalize(%v) = %v", when, err)
		}
	}
}

func TestPathValidate(t *testing.T) {
	tests := []struct {
		name string
		path Path
		ok   bool
	}{
		{"leap day", Path{{Year, 2016}, {Month, 2}, {Day, 29}}, true},
		{"no leap day", Path{{Year, 2015}, {Month, 2}, {Day, 29}}, false},
		{"month 13", Path{{Year, 2015}, {Month, 13}}, false},
		{"hour 24", Path{{Year, 2015}, {Month, 1}, {Day, 1}, {Hour, 24}}, false},
		{"skips a level", Path{{Year, 2015}, {Day, 1}}, false},
		{"empty", Path{}, false},
	}
	for _, tt := range tests {
		err := tt.path.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !IsValidation(err) {
			t.Errorf("%s: %v is not a validation error", tt.name, err)
		}
	}
}

func TestPathCompare(t *testing.T) {
	a := Path{{Year, 2015}, {Month, 8}, {Day, 24}}
	b := Path{{Year, 2015}, {Month, 9}, {Day, 1}}
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Errorf("compare is not ordering by calendar")
	}
	if a.String() != "2015/8/24" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestParseTimezone(t *testing.T) {
	tests := []struct {
		in         string
		offsetSecs int
	}{
		{"", 0},
		{"UTC", 0},
		{"gmt", 0},
		{"Z", 0},
		{"GMT+11", 11 * 3600},
		{"GMT 11", 11 * 3600},
		{"GMT+11:00", 11 * 3600},
		{"UTC-05:30", -(5*3600 + 30*60)},
		{"+0100", 3600},
		{"-08", -8 * 3600},
	}
	ref := time.Date(2015, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		loc, err := ParseTimezone(tt.in)
		if err != nil {
			t.Errorf("ParseTimezone(%q): %v", tt.in, err)
			continue
		}
		if _, off := ref.In(loc).Zone(); off != tt.offsetSecs {
			t.Errorf("ParseTimezone(%q) offset = %d, want %d", tt.in, off, tt.offsetSecs)
		}
	}

	if loc, err := ParseTimezone("America/New_York"); err != nil || loc.String() != "America/New_York" {
		t.Errorf("IANA zone: %v, %v", loc, err)
	}

	for _, bad := range []string{"Mars/Olympus", "GMT+25", "GMT+1:-5", "GMT+abc", "+"} {
		if _, err := ParseTimezone(bad); !errors.Is(err, ErrInvalidTimezone) {
			t.Errorf("ParseTimezone(%q) = %v, want ErrInvalidTimezone", bad, err)
		}
	}
}

func TestParseResolution(t *testing.T) {
	for _, r := range Resolutions() {
		got, err := ParseResolution(r.String())
		if err != nil || got != r {
			t.Errorf("ParseResolution(%q) = %v, %v", r.String(), got, err)
		}
	}
	if got, _ := ParseResolution("minute"); got != Minute {
		t.Errorf("case-insensitive parse = %v", got)
	}
	if got, _ := ParseResolution(""); got != Day {
		t.Errorf("default resolution = %v, want Day", got)
	}
	if _, err := ParseResolution("Week"); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("ParseResolution(Week) = %v", err)
	}
	if c, ok := Second.Child(); ok {
		t.Errorf("Second has child %v", c)
	}
	if c, _ := Day.Child(); c != Hour {
		t.Errorf("Day child = %v", c)
	}
}

func TestNewInstant(t *testing.T) {
	inst, err := NewInstant(1440416586000, "GMT+11", "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Resolution != Day {
		t.Errorf("resolution = %v", inst.Resolution)
	}
	if got := inst.Time().Hour(); got != 22 {
		t.Errorf("local hour = %d, want 22", got)
	}
	if _, err := NewInstant(0, "nowhere", ""); !IsValidation(err) {
		t.Errorf("bad timezone: %v", err)
	}
}
