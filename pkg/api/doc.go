// Package api exposes the lookup registry over HTTP/JSON: per-workflow
// digest lookups and pin listings, workflow retirement, and the standard
// health, readiness and Prometheus endpoints.
package api
