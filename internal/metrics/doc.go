// Package metrics holds the process-wide registry of queue series.
//
// A Registry owns a set of metric families described up front with
// RegisterDescription(name, kind, help). Callers then push point-in-time
// values:
//
//   - SetCounterAbsolute records the broker's cumulative count for a series.
//     The value is stored as-is, never summed, so repeating a value is a no-op.
//     A lower value than the stored one is a counter reset: the new value is
//     rendered and the OnCounterReset hook fires.
//   - SetGauge overwrites the last value of a series.
//
// Every write carries an observation time (the *At variants). A write older
// than the one already stored for the series is dropped, so two overlapping
// scrapes cannot roll a counter backwards.
//
// Render gathers all families through a prometheus.Registry and encodes them
// in the text exposition format. Families and series come out sorted, and the
// registry's global labels (host) are attached to every series by
// prometheus.WrapRegistererWith rather than by callers. Label values must be
// valid UTF-8; anything else is rejected at write time with
// ErrInvalidLabelValue. A gather error is logged and the remaining families
// are still rendered.
//
// Series are never removed unless Options.StaleAfter is set; Run then evicts
// series that have not been written within that window.
package metrics
