package resource

import (
	"time"
)

// ExpectedUsage is the forecaster's estimate of demand over a horizon.
type ExpectedUsage struct {
	Horizon time.Duration
	// PerKind is the expected concurrent usage of each resource type.
	PerKind map[string]float64
}

// Forecaster predicts future demand from the allocator's ledger using a
// moving-window average of concurrent usage. Its output is advisory only:
// it may throttle low-priority admission, but never blocks capacity that is
// actually free.
type Forecaster struct {
	allocator *Allocator
	window    time.Duration
	clock     func() time.Time
}

// NewForecaster builds a forecaster over a moving window of ledger history.
func NewForecaster(allocator *Allocator, window time.Duration) *Forecaster {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Forecaster{
		allocator: allocator,
		window:    window,
		clock:     time.Now,
	}
}

// Forecast estimates expected concurrent usage over the horizon, as the
// time-weighted average usage observed inside the moving window plus
// everything still held.
func (f *Forecaster) Forecast(horizon time.Duration) ExpectedUsage {
	now := f.clock()
	cutoff := now.Add(-f.window)

	usage := ExpectedUsage{
		Horizon: horizon,
		PerKind: make(map[string]float64),
	}

	windowSeconds := f.window.Seconds()
	for _, entry := range f.allocator.Ledger() {
		end := entry.ReleasedAt
		if end.IsZero() {
			end = now
		}
		if end.Before(cutoff) {
			continue
		}
		start := entry.Allocated
		if start.Before(cutoff) {
			start = cutoff
		}
		weight := end.Sub(start).Seconds() / windowSeconds
		for kind, amount := range entry.Amount {
			usage.PerKind[kind] += float64(amount) * weight
		}
	}

	return usage
}

// ShouldThrottle advises whether admission of the given requirement should be
// deferred because forecast demand already exceeds pool capacity. Advisory:
// callers apply it to low-priority admission only.
func (f *Forecaster) ShouldThrottle(req Requirement, horizon time.Duration) bool {
	if req.Empty() {
		return false
	}
	forecast := f.Forecast(horizon)
	total := f.allocator.Pool().Total
	for kind, amount := range req {
		if forecast.PerKind[kind]+float64(amount) > float64(total[kind]) {
			return true
		}
	}
	return false
}
