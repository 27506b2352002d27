package resolver

import (
	"context"
	"errors"

	"github.com/cuemby/tagpin/pkg/types"
)

// ErrBackpressure is returned (possibly wrapped) when the upstream refuses
// the request because it is overloaded. The coordinator does not surface it
// to clients; it re-sends the request on an exponential backoff schedule.
var ErrBackpressure = errors.New("resolver backpressure")

// IsBackpressure reports whether err indicates upstream backpressure.
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrBackpressure)
}

// Resolver maps a mutable image reference to its current content digest.
// Implementations must be safe for concurrent use; the coordinator issues
// one call per outstanding reference but runs coordinators for many
// workflows against a shared resolver.
type Resolver interface {
	Resolve(ctx context.Context, ref types.Reference) (types.Digest, error)
}
