/*
Package resolver maps mutable image references to content digests.

The Resolver interface is the contract the lookup coordinator forwards
requests to. A resolver reports exactly one of three things per call: the
digest, a failure, or backpressure (ErrBackpressure, meaning the upstream
refused the request and the caller should retry later).

RegistryResolver talks to the registry directly with a manifest HEAD
request; ContainerdResolver goes through containerd's registry resolver
with its default registry hosts (no hosts directory, mirror or credential
configuration is loaded). Both map HTTP 429 to ErrBackpressure.
*/
package resolver
