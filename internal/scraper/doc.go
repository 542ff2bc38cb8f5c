// Package scraper runs one Disque collection cycle per call and returns the
// rendered exposition text.
//
// A scrape opens its own broker connection, pages QSCAN until the cursor
// returns to 0, then issues QSTAT for every queue in scan order. Each decoded
// QueueStats updates the shared metrics.Registry: jobs in/out as absolute
// counters, everything else as gauges, all labelled queue=<name>. The host
// label comes from the registry itself.
//
// Failure policy:
//   - the broker cannot be reached: ErrBrokerUnreachable, no output
//   - a QSCAN page fails: ErrScan, no output
//   - one queue's QSTAT fails or does not decode, or its name is not valid
//     UTF-8: recorded in Result.Failed, the queue is skipped and the scrape
//     goes on
//   - the request context ends mid-scrape: the context error, no output
//
// Queues that disappear from the broker keep their last values in the
// registry. That staleness is accepted; set metrics.stale_after to evict them.
//
// Every broker call runs under its own timeout (disque.timeout). Concurrent
// scrapes are safe: they share only the registry. Broker settings can be
// swapped at runtime with Reconfigure.
package scraper
