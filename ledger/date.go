package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil calendar day (ledger key)
// =============================================================================

// DateLayout is the ISO-8601 calendar date layout used in every document.
const DateLayout = "2006-01-02"

// IST is the fixed UTC+05:30 zone the dataset is published in.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// Date is a calendar day. The zero value is "no date".
type Date struct {
	t time.Time
}

// NewDate constructs a Date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// TodayIST returns the current calendar day in India.
func TodayIST() Date {
	return DateOf(time.Now().In(IST))
}

// ParseDate parses an ISO-8601 calendar date.
func ParseDate(s string) (Date, error) {
	return ParseDateLayout(DateLayout, s)
}

// ParseDateLayout parses s with the given layout.
func ParseDateLayout(layout, s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the whole days from `from` to `to`.
func DaysBetween(from, to Date) int { return int(to.t.Sub(from.t).Hours() / 24) }

// =============================================================================
// DATE RANGE
// =============================================================================

// Range is an inclusive span of days. A zero bound is open.
type Range struct {
	From Date
	To   Date
}

// Contains reports whether d falls within the range.
func (r Range) Contains(d Date) bool {
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

func (r Range) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}
