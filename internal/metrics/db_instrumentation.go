package metrics

import "time"

// MeasureDBQuery starts a timer for one storage round trip and returns the
// function that records it:
//
//	defer metrics.MeasureDBQuery(s.metrics, "transition", "postgres")()
//
// A nil Metrics yields a no-op so stores can be built without instrumentation.
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() { m.ObserveDBQuery(operation, backend, time.Since(start)) }
}
