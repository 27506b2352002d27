package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

const applyTimeout = 5 * time.Second

// RaftConfig holds the settings for a replicated pin store.
type RaftConfig struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
}

// RaftStore implements Store with writes replicated through Raft. Committed
// pin commands are applied to a local BoltStore by the FSM; reads are served
// from that local store.
type RaftStore struct {
	local *BoltStore
	fsm   *pinFSM
	raft  *raft.Raft
}

// NewRaftStore starts a Raft node over the given local store. With
// Bootstrap set, the node forms a single-server cluster; additional nodes
// join through Join on the leader.
func NewRaftStore(local *BoltStore, cfg RaftConfig) (*RaftStore, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	fsm := newPinFSM(local)
	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft node: %w", err)
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(cfg.NodeID),
					Address: transport.LocalAddr(),
				},
			},
		}
		future := r.BootstrapCluster(configuration)
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	return &RaftStore{
		local: local,
		fsm:   fsm,
		raft:  r,
	}, nil
}

// Join adds a node to the cluster. Must be called on the leader.
func (s *RaftStore) Join(nodeID, address string) error {
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter %s: %w", nodeID, err)
	}
	return nil
}

// IsLeader returns whether this node is the current leader
func (s *RaftStore) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Put replicates a pin write through the Raft log.
func (s *RaftStore) Put(ctx context.Context, workflowID, key, digest string) error {
	if !s.IsLeader() {
		return fmt.Errorf("not the leader (leader is %s)", s.raft.Leader())
	}

	return s.apply("put_pin", putPinCommand{
		WorkflowID: workflowID,
		Key:        key,
		Digest:     digest,
	})
}

// DeleteWorkflow replicates removal of a workflow's pins.
func (s *RaftStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if !s.IsLeader() {
		return fmt.Errorf("not the leader (leader is %s)", s.raft.Leader())
	}
	return s.apply("delete_workflow", workflowID)
}

func (s *RaftStore) apply(op string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal command data: %w", err)
	}

	cmd, err := json.Marshal(Command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(cmd, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply %s: %w", op, err)
	}

	if resp, ok := future.Response().(error); ok && resp != nil {
		return resp
	}
	return nil
}

// Load reads pins from the local FSM store.
func (s *RaftStore) Load(ctx context.Context, workflowID string) ([]Entry, error) {
	return s.local.Load(ctx, workflowID)
}

// HasWorkflow reads from the local FSM store.
func (s *RaftStore) HasWorkflow(ctx context.Context, workflowID string) (bool, error) {
	return s.local.HasWorkflow(ctx, workflowID)
}

// Close shuts down the Raft node and the local store.
func (s *RaftStore) Close() error {
	if err := s.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("failed to shut down raft: %w", err)
	}
	return s.local.Close()
}
