/*
Package lookup implements the per-workflow digest lookup coordinator: a
single-goroutine actor that pins mutable image tags to immutable digests
exactly once per workflow.

# Model

The coordinator consumes one message at a time from an unbounded mailbox.
Resolver replies, pin-write completions, self-imposed timeouts and
backpressure resends all re-enter through the same mailbox, so every
interleaving (including a resolver reply racing its own timeout) is decided
by arrival order, with no locks on coordinator state.

State is three disjoint structures. resolved maps references to digests and
only grows; inflight holds, per reference, the ordered waiters parked on an
outstanding resolver request or pin write; a restart buffer holds requests
that arrive while persisted pins are loading.

# Guarantees

  - At most one resolver request is outstanding per reference; concurrent
    requests for the same reference join the waiter list.
  - A digest is persisted before any waiter sees it.
  - Every waiter receives exactly one outcome.
  - Transient failures (resolver failure, timeout, write error) evict the
    reference; a later request retries from scratch.
  - Only restart-time load or parse failures are terminal; a terminal
    coordinator answers every request with a sticky TerminalFailure and
    never contacts the resolver again.
  - A resolver success arriving after its timeout is still persisted and
    recorded, so the next request is a cache hit.

Registry supervises one coordinator per workflow and decides restart
behavior from the store's contents.
*/
package lookup
