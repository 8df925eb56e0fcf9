package pregel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is an immutable snapshot of one superstep's outcome: every
// channel's value and version as of the end of that step, which
// (node, channel) pairs have already observed which version (VersionsSeen,
// used by the planner to decide which PULL triggers have "newly" fired),
// and any Sends queued for the next step that have not yet run. Checkpoints
// are never mutated after creation — resuming or forking a run always
// starts from a Checkpoint and produces a new one.
type Checkpoint struct {
	ID       string
	ThreadID string
	// Namespace identifies which graph level this checkpoint belongs to:
	// "" for the root graph, "parent_ns|node:task_id" for a subgraph
	// invocation (spec §4.8).
	Namespace string
	// ParentID is the ID of the checkpoint this one was stepped from, or
	// "" for a thread's first checkpoint.
	ParentID string

	ChannelValues   map[string]any
	ChannelVersions map[string]Version
	VersionsSeen    map[string]map[string]Version

	PendingSends []Send

	// InterruptResumes maps a task ID to the resume values supplied for
	// each of its Interrupt calls so far, in call order. A resumed task
	// replays these values from its Interrupt calls in sequence instead of
	// suspending again, until it runs out of recorded values and either
	// completes or suspends on a new call (spec §4.7).
	InterruptResumes map[string][]any

	// PendingInterrupts holds the exact tasks that suspended during the
	// last attempted superstep, if any. A run whose latest checkpoint has
	// a non-empty PendingInterrupts is INTERRUPTED: resuming re-executes
	// only these tasks (not a fresh plan) until none of them suspend
	// again, at which point the superstep completes normally.
	PendingInterrupts []Task

	Step      int
	CreatedAt time.Time
}

// CheckpointMetadata carries the provenance of a checkpoint write that
// isn't part of replayable state: who wrote it and why. Stores persist it
// alongside the Checkpoint but the engine never reads it back to make
// decisions — it exists purely for observability and GetStateHistory
// display.
type CheckpointMetadata struct {
	Source string // "input" | "loop" | "update" | "fork"
	Step   int
	Writes map[string]any // node name -> raw write value, for display only
}

// PendingWrite is one write a task produced before the superstep that
// contains it finished — persisted so that, if the process crashes between
// a task finishing and its superstep's checkpoint being written, resuming
// the thread can recover the write instead of silently losing it
// (store.PutWrites).
type PendingWrite struct {
	TaskID  string
	Channel string
	Value   any
}

// CheckpointTuple bundles a Checkpoint with its metadata, parent id and
// any pending writes recorded after it but before the next checkpoint —
// exactly what CheckpointStore.GetTuple/List return.
type CheckpointTuple struct {
	Checkpoint    Checkpoint
	Metadata      CheckpointMetadata
	ParentID      string
	PendingWrites []PendingWrite
}

// newCheckpointID returns a checkpoint id that sorts lexicographically in
// creation order within a thread (a nanosecond timestamp prefix) while
// remaining unique even if two checkpoints are created within the same
// clock tick (a uuid suffix) — necessary because Go's time.Now resolution
// is not guaranteed to be finer than the rate superstep checkpoints can be
// produced on a fast machine.
func newCheckpointID(ts time.Time) string {
	return fmt.Sprintf("%020d-%s", ts.UnixNano(), uuid.NewString())
}

// newCheckpoint snapshots the given channels into an immutable Checkpoint.
func newCheckpoint(threadID, namespace, parentID string, step int, channels map[string]Channel, versions map[string]Version, versionsSeen map[string]map[string]Version, pending []Send, interrupts map[string][]any, pendingInterrupts []Task, now time.Time) Checkpoint {
	values := make(map[string]any, len(channels))
	for name, ch := range channels {
		values[name] = ch.Checkpoint()
	}
	vcopy := make(map[string]Version, len(versions))
	for k, v := range versions {
		vcopy[k] = v
	}
	vscopy := make(map[string]map[string]Version, len(versionsSeen))
	for node, seen := range versionsSeen {
		inner := make(map[string]Version, len(seen))
		for ch, v := range seen {
			inner[ch] = v
		}
		vscopy[node] = inner
	}
	icopy := make(map[string][]any, len(interrupts))
	for taskID, values := range interrupts {
		icopy[taskID] = append([]any(nil), values...)
	}

	return Checkpoint{
		ID:               newCheckpointID(now),
		ThreadID:         threadID,
		Namespace:        namespace,
		ParentID:         parentID,
		ChannelValues:    values,
		ChannelVersions:  vcopy,
		VersionsSeen:     vscopy,
		PendingSends:      append([]Send(nil), pending...),
		InterruptResumes:  icopy,
		PendingInterrupts: append([]Task(nil), pendingInterrupts...),
		Step:              step,
		CreatedAt:         now,
	}
}
