/*
Package types defines the shared domain types for tagpin: image references
(repository plus mutable tag) and content digests (algorithm plus value, with
optional resolver-supplied side information).

References are normalized through the distribution reference grammar so that
"ubuntu", "ubuntu:latest" and "docker.io/library/ubuntu:latest" all pin under
the same key. Digests round-trip through the canonical "<algorithm>:<value>"
string, which is the form persisted by the store.
*/
package types
