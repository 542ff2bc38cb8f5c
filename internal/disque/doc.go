// Package disque is a thin client for the two Disque commands the exporter
// needs, built on go-redis since Disque speaks RESP.
//
//   - Open(ctx, url, opts) dials the broker and verifies it with PING.
//   - ScanQueues issues one QSCAN page and returns the next cursor.
//   - QueueStats issues QSTAT and decodes the reply into a typed QueueStats.
//
// QSTAT replies are flat key/value arrays (RESP2) or maps (RESP3).
// DecodeQueueStats turns either into QueueStats and fails with a *DecodeError
// naming the first missing or malformed field. Nothing is cached: every call
// is a fresh request.
package disque
