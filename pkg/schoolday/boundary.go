package schoolday

import (
	"fmt"
	"time"
)

// DefaultUTCOffset is Japan Standard Time.
const DefaultUTCOffset = 9 * time.Hour

// Policy selects which civil day a student may submit for.
type Policy string

const (
	// PolicyToday accepts submissions for the current day only.
	PolicyToday Policy = "today"
	// PolicyPreviousDay accepts submissions for the previous school day only.
	PolicyPreviousDay Policy = "previous_day"
)

// Valid reports whether the policy is supported.
func (p Policy) Valid() bool {
	return p == PolicyToday || p == PolicyPreviousDay
}

// Clock supplies the authoritative current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always reports t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// Boundary computes civil days in a fixed-offset zone, independent of the
// host's configured location.
type Boundary struct {
	clock        Clock
	loc          *time.Location
	skipWeekends bool
}

// Option customises a Boundary.
type Option func(*Boundary)

// WithClock overrides the clock source.
func WithClock(c Clock) Option {
	return func(b *Boundary) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithUTCOffset overrides the zone offset.
func WithUTCOffset(offset time.Duration) Option {
	return func(b *Boundary) {
		b.loc = fixedZone(offset)
	}
}

// WithWeekendSkipping makes PolicyPreviousDay step back over Saturday/Sunday.
func WithWeekendSkipping(skip bool) Option {
	return func(b *Boundary) {
		b.skipWeekends = skip
	}
}

// NewBoundary returns a UTC+9 boundary on the system clock unless overridden.
func NewBoundary(opts ...Option) *Boundary {
	b := &Boundary{clock: SystemClock, loc: fixedZone(DefaultUTCOffset)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Location returns the fixed zone used for day computation.
func (b *Boundary) Location() *time.Location { return b.loc }

// Now returns the current instant in the boundary's zone.
func (b *Boundary) Now() time.Time { return b.clock.Now().In(b.loc) }

// Today reads the clock on every call; nothing is cached.
func (b *Boundary) Today() Day {
	return DayOf(b.clock.Now(), b.loc)
}

// PreviousSchoolDay returns the day before today, optionally skipping weekends.
func (b *Boundary) PreviousSchoolDay() Day {
	prev := b.Today().AddDays(-1)
	if b.skipWeekends {
		for prev.Weekday() == time.Saturday || prev.Weekday() == time.Sunday {
			prev = prev.AddDays(-1)
		}
	}
	return prev
}

// SubmissionDay resolves the only day a submission may target under policy.
func (b *Boundary) SubmissionDay(policy Policy) Day {
	if policy == PolicyPreviousDay {
		return b.PreviousSchoolDay()
	}
	return b.Today()
}

func fixedZone(offset time.Duration) *time.Location {
	seconds := int(offset / time.Second)
	name := fmt.Sprintf("UTC%+03d:%02d", seconds/3600, abs(seconds%3600)/60)
	if offset == DefaultUTCOffset {
		name = "JST"
	}
	return time.FixedZone(name, seconds)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
