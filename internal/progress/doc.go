// Package progress carries worker lifecycle telemetry away from the workers.
// Workers emit Events into a non-blocking Hub, which batches them on a
// background goroutine and fans them out to pluggable sinks such as logs,
// Prometheus collectors, the run store or Pub/Sub.
//
// The Hub is lossy under backpressure. Observers that must see every
// notification subscribe to the worker directly instead.
package progress
