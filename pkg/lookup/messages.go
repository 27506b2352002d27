package lookup

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/tagpin/pkg/store"
	"github.com/cuemby/tagpin/pkg/types"
)

// ErrTimeout is the outcome error when the coordinator's self-imposed
// resolver timeout fires. The reference may be requested again.
var ErrTimeout = errors.New("digest lookup timed out")

// ErrWriteFailed is the outcome error when the digest resolved but could
// not be persisted. The reference may be requested again.
var ErrWriteFailed = errors.New("failed to persist digest")

// TerminalFailure is the sticky outcome error: the coordinator could not
// load its persisted pins, or has been closed, and will fail every request
// for the rest of the workflow's life.
type TerminalFailure struct {
	Cause error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("digest lookup terminally failed: %v", e.Cause)
}

func (e *TerminalFailure) Unwrap() error { return e.Cause }

// IsTerminal reports whether err is a sticky coordinator failure, meaning
// retrying cannot succeed.
func IsTerminal(err error) bool {
	var t *TerminalFailure
	return errors.As(err, &t)
}

// Outcome is the single reply a waiter receives for a lookup: the digest on
// success, the error otherwise. The originating reference is always quoted.
type Outcome struct {
	Ref    types.Reference
	Digest types.Digest
	Err    error
}

// waiter is one client parked on an in-flight reference.
type waiter struct {
	replyTo chan<- Outcome
	joined  time.Time
}

// Inbox messages. Everything the coordinator reacts to, including its own
// scheduled timeouts and resends, arrives as one of these so that timers,
// resolver replies and store completions interleave in a single order.
type message interface{}

type lookupMsg struct {
	ref      types.Reference
	replyTo  chan<- Outcome
	enqueued time.Time
}

// resolveResultMsg carries the resolver's reply: digest, failure, or
// backpressure (as a wrapped resolver.ErrBackpressure).
type resolveResultMsg struct {
	ref    types.Reference
	digest types.Digest
	err    error
	seq    uint64
}

// timeoutMsg is the self-imposed deadline for one forward, identified by
// its sequence number so stale timers are ignored.
type timeoutMsg struct {
	ref types.Reference
	seq uint64
}

// resendMsg re-forwards a request after a backpressure delay. The epoch
// ties it to one in-flight cycle.
type resendMsg struct {
	ref   types.Reference
	epoch uint64
}

// storeResultMsg reports a completed pin write. epoch is zero for writes
// issued on behalf of a late resolver reply with no in-flight entry.
type storeResultMsg struct {
	ref    types.Reference
	digest types.Digest
	err    error
	epoch  uint64
}

type loadResultMsg struct {
	entries []store.Entry
	err     error
	started time.Time
}

type pinsMsg struct {
	replyTo chan map[types.Reference]types.Digest
}
