package pregel

import "context"

// Reserved channel names. START and END are not ordinary channels — they
// are markers used in NodeSpec.Triggers and Command.Goto to mean "the
// graph's entry point" and "terminate this run" respectively. TasksChannel
// is an ordinary Topic channel the engine itself owns: writes to it
// (produced internally when a node returns Sends) become the next
// superstep's PUSH tasks and are drained every step (spec §4.4).
const (
	START         = "__start__"
	END           = "__end__"
	tasksChannel  = "__tasks__"
)

// Write is one channel write produced by a task: "apply Value to the
// channel named Channel". A single task may return any number of Writes,
// including zero or several writes to the same channel (which the target
// channel's merge rule then folds, same as writes from different tasks).
type Write struct {
	Channel string
	Value   any
}

// Runtime is the handle a NodeRunnable receives when it runs. It is the
// task's only window into graph state: every method reads consistently as
// of "committed state as of the start of this superstep, plus any writes
// this same task has already returned earlier in its own execution" (the
// local-read rule, spec §4.9) and never observes another concurrently
// running task's uncommitted writes.
type Runtime interface {
	// Get reads a channel's current value under the local-read rule.
	Get(channel string) (value any, ok bool)

	// Write records a channel write immediately, visible to this task's own
	// subsequent Get calls (the "own uncommitted writes" half of the
	// local-read rule, spec §4.9) even though the engine does not apply it
	// to shared channel state until the whole task returns. A node may use
	// Write for writes it wants to read back later in the same execution,
	// or simply return them from Run like any other write — both end up in
	// the same final write set.
	Write(channel string, value any)

	// Interrupt suspends the current task, surfacing value to whatever is
	// driving the run (Engine.Stream's interrupt events, or the return
	// value of Engine.Invoke when it stops at an interrupt). Resuming the
	// run re-executes the task from its start; calls to Interrupt before
	// the one that previously suspended replay their previously recorded
	// resume values instead of suspending again (spec §4.7).
	Interrupt(value any) any

	// TaskID returns the deterministic id of the currently executing
	// task (stable across retries and resume re-execution).
	TaskID() string

	// NodeName returns the name of the node this task is executing.
	NodeName() string

	// Namespace returns the checkpoint namespace this task's graph is
	// running under ("" for the root graph, otherwise
	// "parent_ns|node:task_id" per spec §4.8).
	Namespace() string
}

// NodeRunnable is the unit of work scheduled by the planner. Input is the
// payload for PUSH tasks produced by Send (nil for PULL tasks, which read
// their inputs from rt.Get instead). A NodeRunnable returns the channel
// writes it wants applied, optionally a Command for explicit routing or
// resume-value propagation, and an error that — unless it is (or wraps) an
// interrupt sentinel, which Runtime.Interrupt raises and the engine
// recovers before it ever reaches here — fails the task.
type NodeRunnable interface {
	Run(ctx context.Context, rt Runtime, input any) ([]Write, *Command, error)
}

// NodeFunc adapts a plain function to NodeRunnable.
type NodeFunc func(ctx context.Context, rt Runtime, input any) ([]Write, *Command, error)

// Run implements NodeRunnable.
func (f NodeFunc) Run(ctx context.Context, rt Runtime, input any) ([]Write, *Command, error) {
	return f(ctx, rt, input)
}

// NodeSpec declares one node on a Graph: its runnable, which channels
// advancing trigger it for a PULL task, its policies, and (optionally) a
// subgraph it delegates to instead of running Runnable directly.
type NodeSpec struct {
	Name      string
	Runnable  NodeRunnable
	Triggers  []string
	Policy    *NodePolicy
	Subgraph  *Graph
	Deferred  bool // per spec §9: wait for ALL triggers to have advanced, not any
}

// taskKind distinguishes how a task was planned, which affects ordering
// (PUSH before PULL, spec §4.4) but nothing about execution itself.
type taskKind int

const (
	taskPull taskKind = iota
	taskPush
)

// Task is one planned unit of work for a single superstep.
type Task struct {
	ID        string
	Node      string
	Kind      taskKind
	Input     any
	Namespace string
	triggers  []string // channels whose advancement caused a PULL task; nil for PUSH
}

// TaskResult is the outcome of running one Task, produced by the executor
// (engine.go) and consumed by the Write Applier (applier.go).
type TaskResult struct {
	Task        Task
	Writes      []Write
	Command     *Command
	Err         error
	Interrupted bool
	InterruptValue any
}
