package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// pinFSM implements the Raft Finite State Machine for replicated pin state.
// It applies committed log entries to the local BoltDB store and handles
// snapshots.
type pinFSM struct {
	mu    sync.RWMutex
	local *BoltStore
}

func newPinFSM(local *BoltStore) *pinFSM {
	return &pinFSM{local: local}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type putPinCommand struct {
	WorkflowID string `json:"workflow_id"`
	Key        string `json:"key"`
	Digest     string `json:"digest"`
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *pinFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "put_pin":
		var pin putPinCommand
		if err := json.Unmarshal(cmd.Data, &pin); err != nil {
			return err
		}
		return f.local.Put(context.Background(), pin.WorkflowID, pin.Key, pin.Digest)

	case "delete_workflow":
		var workflowID string
		if err := json.Unmarshal(cmd.Data, &workflowID); err != nil {
			return err
		}
		return f.local.DeleteWorkflow(context.Background(), workflowID)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *pinFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	workflows, err := f.local.ListWorkflows()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %v", err)
	}

	snapshot := &pinSnapshot{Pins: make(map[string][]Entry, len(workflows))}
	for _, id := range workflows {
		entries, err := f.local.Load(context.Background(), id)
		if err != nil {
			return nil, fmt.Errorf("failed to load pins for %s: %v", id, err)
		}
		snapshot.Pins[id] = entries
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *pinFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot pinSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for workflowID, entries := range snapshot.Pins {
		for _, entry := range entries {
			if err := f.local.Put(context.Background(), workflowID, entry.Key, entry.Digest); err != nil {
				return fmt.Errorf("failed to restore pin: %v", err)
			}
		}
	}

	return nil
}

// pinSnapshot represents a point-in-time snapshot of all pinned digests
type pinSnapshot struct {
	Pins map[string][]Entry `json:"pins"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *pinSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *pinSnapshot) Release() {}
