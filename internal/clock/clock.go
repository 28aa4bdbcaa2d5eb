package clock

import "time"

// Clock abstracts time.Now so expiry windows and rate limits can be tested
// with a fixed or advancing clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall clock in UTC.
func System() Clock { return systemClock{} }

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	current time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{current: t.UTC()}
}

func (f *Fixed) Now() time.Time { return f.current }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.current = f.current.Add(d) }

// Set jumps the clock to t.
func (f *Fixed) Set(t time.Time) { f.current = t.UTC() }
