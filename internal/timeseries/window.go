package timeseries

import "time"

// Window pairs two Aggregates that are sampled together and tracks the span
// of time their samples cover. Nodes and pods use Primary for CPU and
// Secondary for memory; volumes use Primary for capacity and Secondary for used bytes.
type Window struct {
	Primary   Aggregate
	Secondary Aggregate

	first     time.Time
	last      time.Time
	minWindow time.Duration
}

// NewWindow creates an empty window. minWindow is the coverage already implied
// by a single sample, e.g. the window the metrics API reports per sample.
func NewWindow(minWindow time.Duration) *Window {
	return &Window{minWindow: minWindow}
}

// Update records one sample of both dimensions. A zero timestamp, or a
// timestamp equal to the last accepted one, is ignored so that the same
// scrape snapshot is never counted twice. It reports whether the sample was accepted.
func (w *Window) Update(primary, secondary int64, timestamp time.Time) bool {
	if timestamp.IsZero() || timestamp.Equal(w.last) {
		return false
	}

	w.Primary.Update(primary)
	w.Secondary.Update(secondary)
	w.last = timestamp
	if w.first.IsZero() {
		w.first = timestamp
	}
	return true
}

// Empty reports whether no sample has been accepted yet
func (w *Window) Empty() bool {
	return w.first.IsZero()
}

// Start returns the timestamp of the first accepted sample.
// It panics if no sample was ever accepted.
func (w *Window) Start() time.Time {
	if w.first.IsZero() {
		panic("timeseries: Start called on an empty Window")
	}
	return w.first
}

// End returns the timestamp of the most recently accepted sample
func (w *Window) End() time.Time {
	return w.last
}

// Duration returns minWindow plus the span between the first and last accepted samples
func (w *Window) Duration() time.Duration {
	return w.minWindow + w.last.Sub(w.first)
}
