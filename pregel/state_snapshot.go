package pregel

// StateSnapshot is the user-facing view of one checkpoint: its channel
// values, provenance metadata, and (if the checkpoint ended a superstep at
// an interrupt) which tasks are still pending (spec §4.11).
type StateSnapshot struct {
	CheckpointID string
	ParentID     string
	ThreadID     string
	Namespace    string
	Step         int
	Values       map[string]any
	Metadata     CheckpointMetadata
	Next         []TaskDescription
}

// TaskDescription describes one task pending execution from a snapshot's
// point in time, surfaced so a caller inspecting GetState/GetStateHistory
// can see what would run next without actually running it.
type TaskDescription struct {
	ID   string
	Node string
}

func snapshotFromTuple(g *Graph, tuple CheckpointTuple) StateSnapshot {
	var next []TaskDescription
	for _, t := range tuple.Checkpoint.PendingInterrupts {
		next = append(next, TaskDescription{ID: t.ID, Node: t.Node})
	}
	return StateSnapshot{
		CheckpointID: tuple.Checkpoint.ID,
		ParentID:     tuple.Checkpoint.ParentID,
		ThreadID:     tuple.Checkpoint.ThreadID,
		Namespace:    tuple.Checkpoint.Namespace,
		Step:         tuple.Checkpoint.Step,
		Values:       tuple.Checkpoint.ChannelValues,
		Metadata:     tuple.Metadata,
		Next:         next,
	}
}
