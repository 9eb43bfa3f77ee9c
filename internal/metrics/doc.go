// Package metrics exports gateway engine and device state to Prometheus.
//
// Collector reads counters at scrape time, so nothing is updated on the hot
// path of the push listener or the poller.
package metrics
