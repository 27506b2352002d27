package store

import "context"

// Entry is one persisted pin row: the canonical reference string and the
// canonical "<algorithm>:<value>" digest string.
type Entry struct {
	Key    string `json:"key"`
	Digest string `json:"digest"`
}

// Store defines the durable pin storage consumed by the lookup coordinator.
// Rows are addressed per workflow; the coordinator guarantees at most one
// in-flight Put per reference, but the store itself is not required to
// enforce uniqueness.
type Store interface {
	// Load returns all pins recorded for the workflow, in key order.
	Load(ctx context.Context, workflowID string) ([]Entry, error)

	// Put records one pin. Overwriting an existing key is allowed
	// (last write wins).
	Put(ctx context.Context, workflowID, key, digest string) error

	// HasWorkflow reports whether any pins exist for the workflow.
	HasWorkflow(ctx context.Context, workflowID string) (bool, error)

	// DeleteWorkflow removes every pin recorded for the workflow.
	DeleteWorkflow(ctx context.Context, workflowID string) error

	Close() error
}
