// Package events carries pin lifecycle notifications (pin.resolved,
// pin.lookup_failed, workflow.rehydrated, workflow.terminal) from lookup
// coordinators to in-process subscribers. Delivery is synchronous and
// non-blocking: Publish fans out under a read lock and drops events for
// subscribers whose buffers are full.
package events
