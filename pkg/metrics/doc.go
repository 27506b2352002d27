// Package metrics defines the Prometheus collectors for tagpin: lookup
// outcomes and latency, resolver traffic (requests, backpressure, timeouts,
// late replies), store write results, rehydration cost, and API request
// accounting. Handler exposes the standard promhttp endpoint.
package metrics
