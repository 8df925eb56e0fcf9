package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/pregel-go/pregel"
)

// MemoryStore is an in-memory CheckpointStore.
//
// It keeps every checkpoint ever written for a thread, grouped by
// namespace, ordered by creation (checkpoint IDs are time-ordered, so
// append order is chronological order). Designed for tests and
// single-process runs; all data is lost on process exit.
type MemoryStore struct {
	mu    sync.RWMutex
	lines map[string][]pregel.CheckpointTuple // threadKey(threadID, namespace) -> tuples, oldest first
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lines: make(map[string][]pregel.CheckpointTuple),
	}
}

// GetTuple returns the checkpoint with the given ID, or the most recent
// checkpoint in the lineage if checkpointID is empty.
func (s *MemoryStore) GetTuple(_ context.Context, threadID, namespace, checkpointID string) (pregel.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tuples := s.lines[threadKey(threadID, namespace)]
	if len(tuples) == 0 {
		return pregel.CheckpointTuple{}, pregel.ErrNotFound
	}

	if checkpointID == "" {
		return tuples[len(tuples)-1], nil
	}
	for i := len(tuples) - 1; i >= 0; i-- {
		if tuples[i].Checkpoint.ID == checkpointID {
			return tuples[i], nil
		}
	}
	return pregel.CheckpointTuple{}, pregel.ErrNotFound
}

// List returns up to limit checkpoints for a thread/namespace, most recent
// first. limit <= 0 means no limit.
func (s *MemoryStore) List(_ context.Context, threadID, namespace string, limit int) ([]pregel.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tuples := s.lines[threadKey(threadID, namespace)]
	out := make([]pregel.CheckpointTuple, len(tuples))
	copy(out, tuples)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Checkpoint.CreatedAt.After(out[j].Checkpoint.CreatedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Put appends a new checkpoint to its thread/namespace lineage.
func (s *MemoryStore) Put(_ context.Context, checkpoint pregel.Checkpoint, metadata pregel.CheckpointMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := threadKey(checkpoint.ThreadID, checkpoint.Namespace)
	s.lines[key] = append(s.lines[key], pregel.CheckpointTuple{
		Checkpoint: checkpoint,
		Metadata:   metadata,
		ParentID:   checkpoint.ParentID,
	})
	return nil
}

// PutWrites attaches pending writes to an already-persisted checkpoint, so
// a crash between a task finishing and its superstep's checkpoint being
// written does not silently lose the write.
func (s *MemoryStore) PutWrites(_ context.Context, threadID, namespace, checkpointID string, writes []pregel.PendingWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tuples := s.lines[threadKey(threadID, namespace)]
	for i := range tuples {
		if tuples[i].Checkpoint.ID == checkpointID {
			tuples[i].PendingWrites = append(tuples[i].PendingWrites, writes...)
			return nil
		}
	}
	return pregel.ErrNotFound
}
