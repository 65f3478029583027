// Package sinks implements concrete consumers of worker run events: structured
// logging, Prometheus collectors, the run repository and Pub/Sub. Each sink
// satisfies progress.Sink.
package sinks
