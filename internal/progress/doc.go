// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that workers use to report crawl progress. Events batch
// on a background goroutine and fan out to pluggable sinks such as Prometheus
// collectors or the site-stats store.
package progress
