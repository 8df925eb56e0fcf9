package pregel

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a CheckpointStore when a requested thread,
// namespace, or checkpoint id does not exist.
var ErrNotFound = errors.New("pregel: checkpoint not found")

// CheckpointStore persists the superstep-by-superstep history of every
// thread an engine runs, enabling resume, fork, time-travel (GetStateHistory)
// and the durability guarantees of spec §4.3/§4.6.
//
// Implementations must be safe for concurrent use. A (ThreadID, Namespace)
// pair forms an independent checkpoint lineage; subgraph namespaces
// (spec §4.8) are simply additional lineages keyed off the same store.
type CheckpointStore interface {
	// GetTuple returns the latest checkpoint for (threadID, namespace), or
	// the specific checkpointID if non-empty. Returns ErrNotFound if the
	// thread/namespace has no checkpoints yet.
	GetTuple(ctx context.Context, threadID, namespace, checkpointID string) (CheckpointTuple, error)

	// List returns checkpoint tuples for (threadID, namespace) newest
	// first, for GetStateHistory. limit <= 0 means no limit.
	List(ctx context.Context, threadID, namespace string, limit int) ([]CheckpointTuple, error)

	// Put persists a new checkpoint and its metadata, linked to its parent
	// by checkpoint.ParentID.
	Put(ctx context.Context, checkpoint Checkpoint, metadata CheckpointMetadata) error

	// PutWrites records pending writes produced by a task before its
	// superstep's checkpoint exists yet, so a crash between task
	// completion and checkpoint write does not lose them. checkpointID
	// identifies the checkpoint the writes belong ahead of.
	PutWrites(ctx context.Context, threadID, namespace, checkpointID string, writes []PendingWrite) error
}
