package afcp

import "time"

// Clock is a monotonic time source. Every component that reasons about
// elapsed time (Registry heartbeats, Admission windows, Health Monitor
// ticks) takes one at construction instead of calling time.Now directly,
// so tests can advance time deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTicker returns a ticker that fires at interval, per time.NewTicker.
	NewTicker(interval time.Duration) Ticker
}

// Ticker abstracts *time.Ticker so the Health Monitor can be driven by a
// fake clock in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the production Clock, backed by the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// NewTicker wraps time.NewTicker.
func (SystemClock) NewTicker(interval time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(interval)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
