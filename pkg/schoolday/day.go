package schoolday

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the canonical wire and storage representation of a Day.
const Layout = "2006-01-02"

// Day is a civil calendar date without time-of-day or zone.
// Internally it is held as midnight UTC so values compare with ==.
type Day struct {
	t time.Time
}

// NewDay builds a Day from calendar components.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the civil date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	local := t.In(loc)
	return NewDay(local.Year(), local.Month(), local.Day())
}

// Parse reads a YYYY-MM-DD string.
func Parse(raw string) (Day, error) {
	t, err := time.Parse(Layout, raw)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", raw, err)
	}
	return Day{t: t}, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(raw string) Day {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time { return d.t }

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// AddDays shifts the day by n calendar days.
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// Weekday of the civil date.
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }

func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }

// Value stores the day as a DATE-compatible string.
func (d Day) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan accepts DATE columns as returned by lib/pq (time.Time) or text drivers.
func (d *Day) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*d = Day{}
		return nil
	case time.Time:
		*d = NewDay(v.Year(), v.Month(), v.Day())
		return nil
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	default:
		return fmt.Errorf("unsupported type %T for Day", value)
	}
}

func (d *Day) scanString(raw string) error {
	if len(raw) > len(Layout) {
		raw = raw[:len(Layout)]
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON renders the day as "YYYY-MM-DD" or null.
func (d Day) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON parses "YYYY-MM-DD"; null and "" leave the zero day.
func (d *Day) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("day must be a string: %w", err)
	}
	if raw == nil || *raw == "" {
		*d = Day{}
		return nil
	}
	parsed, err := Parse(*raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DayRange is an inclusive range of days.
type DayRange struct {
	From Day `json:"from"`
	To   Day `json:"to"`
}

// SingleDay returns a range covering exactly d.
func SingleDay(d Day) DayRange { return DayRange{From: d, To: d} }

// TrailingDays returns the n days ending at (and including) end.
func TrailingDays(end Day, n int) DayRange {
	if n < 1 {
		n = 1
	}
	return DayRange{From: end.AddDays(-(n - 1)), To: end}
}

// Valid reports whether both ends are set and From <= To.
func (r DayRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.From.After(r.To)
}

// Contains reports whether d lies within the range.
func (r DayRange) Contains(d Day) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// Days enumerates the range in ascending order.
func (r DayRange) Days() []Day {
	if !r.Valid() {
		return nil
	}
	var out []Day
	for d := r.From; !d.After(r.To); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Len returns the number of days in the range, 0 when invalid.
func (r DayRange) Len() int {
	if !r.Valid() {
		return 0
	}
	return int(r.To.t.Sub(r.From.t).Hours()/24) + 1
}
