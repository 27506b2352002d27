/*
Package store provides durable pin persistence for tagpin.

The Store interface is the contract the lookup coordinator consumes: load
every pin for a workflow on restart, write one pin per successful
resolution, and retire a workflow's pins when it is deleted. Keys are
canonical reference strings; values are canonical "<algorithm>:<value>"
digest strings. The store does not enforce key uniqueness beyond
last-write-wins; the coordinator guarantees at most one in-flight write per
reference within a run.

Two implementations ship:

BoltStore:
  - Single BoltDB file (<dataDir>/tagpin.db)
  - One nested bucket per workflow under the top-level pins bucket
  - Read transactions via db.View(), writes via db.Update()

RaftStore:
  - Wraps a BoltStore; writes replicate through a hashicorp/raft log
  - pinFSM applies committed commands to the local BoltStore
  - Reads are served from the local FSM store
  - Snapshot/Restore serialize the full pin state as JSON
*/
package store
