package store

import (
	"context"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketPins = []byte("pins")

// BoltStore implements Store using BoltDB. Pins live in a nested bucket per
// workflow under the top-level pins bucket, keyed by the canonical reference
// string.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the pin database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "tagpin.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPins)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pins bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns all pins for a workflow in key order. A workflow with no
// pins yields an empty list, not an error.
func (s *BoltStore) Load(ctx context.Context, workflowID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPins).Bucket([]byte(workflowID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			entries = append(entries, Entry{Key: string(k), Digest: string(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load pins for workflow %s: %w", workflowID, err)
	}
	return entries, nil
}

// Put records one pin, overwriting any previous value for the key.
func (s *BoltStore) Put(ctx context.Context, workflowID, key, digest string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketPins).CreateBucketIfNotExists([]byte(workflowID))
		if err != nil {
			return fmt.Errorf("failed to create workflow bucket: %w", err)
		}
		return b.Put([]byte(key), []byte(digest))
	})
}

// HasWorkflow reports whether the workflow has any pins recorded.
func (s *BoltStore) HasWorkflow(ctx context.Context, workflowID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPins).Bucket([]byte(workflowID))
		if b == nil {
			return nil
		}
		k, _ := b.Cursor().First()
		found = k != nil
		return nil
	})
	return found, err
}

// DeleteWorkflow removes the workflow's pin bucket.
func (s *BoltStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketPins).DeleteBucket([]byte(workflowID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// ListWorkflows returns the IDs of every workflow with recorded pins.
// Used by the raft FSM to snapshot the full pin state.
func (s *BoltStore) ListWorkflows() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPins).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
