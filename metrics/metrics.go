// Package metrics defines the two-method interface reprovm's core uses to
// report observability events. Structured metrics, Prometheus exposition and
// everything downstream of an event are out of scope for the core — this
// package only defines the seam a host process can plug into. Every call
// site treats a nil-free metrics.Noop{} as the default, so the core's
// behaviour never depends on what, if anything, is listening.
package metrics

// Sink is the interface the core reports observability events through. It
// mirrors logger.Logger's shape: small, injected, and safe to no-op.
type Sink interface {
	// Count records a single occurrence of event, e.g. "cas.store" or
	// "executor.skipped".
	Count(event string)
	// Observe records a numeric measurement against event, e.g. task
	// execution duration in seconds.
	Observe(event string, value float64)
}

// Noop is a Sink that discards everything. It is the default when a host
// does not care to observe reprovm's internals.
type Noop struct{}

// Count implements Sink for Noop by discarding the event.
func (Noop) Count(string) {}

// Observe implements Sink for Noop by discarding the measurement.
func (Noop) Observe(string, float64) {}
