// Package api implements the HTTP boundary of disque-exporter.
//
// New(scraper, contentType) returns an http.Handler that serves:
//
//	GET /metrics    one fresh scrape, rendered as exposition text
//
// Every other method or path answers 404 with an empty body. A scrape that
// cannot reach or scan the broker answers 503 with a one-line plain-text
// reason; per-queue failures still answer 200.
//
// No external HTTP framework is used.
package api
