package remote

import "time"

// Clock abstracts time so the session cache, the reconciler timer, and
// the convergence poll loop can be driven by a fake clock in tests.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
	Sleep(d time.Duration) <-chan time.Time
}

// Ticker is the subset of time.Ticker the engine needs.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// RealClock is the production Clock backed by the time package.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// Ticker returns a ticker firing every d.
func (RealClock) Ticker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// Sleep returns a channel that fires once after d.
func (RealClock) Sleep(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }
