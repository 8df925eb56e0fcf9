package pregel

// GraphTarget names which graph a Command's routing applies to. A node in a
// subgraph normally routes within its own graph. GraphParent marks routing
// for the enclosing parent graph, but neither the write applier nor
// subgraph.go acts on it: the Goto targets of a GraphParent Command are not
// scheduled in the subgraph, and they are not passed back to the parent.
type GraphTarget int

const (
	// GraphCurrent (the zero value) routes within the graph the emitting
	// node belongs to.
	GraphCurrent GraphTarget = iota
	// GraphParent names the immediately enclosing parent graph. A Command
	// with this target schedules no tasks in any graph (see GraphTarget);
	// its Update writes are still applied in the emitting node's graph.
	GraphParent
)

// Command is returned by a NodeRunnable (optionally alongside channel
// writes) to control what happens next: which node(s) to route to, a value
// to resume an interrupted task with, and which graph level the routing
// applies to. A Command with an empty Goto performs no explicit routing,
// letting the node's declared triggers alone decide.
type Command struct {
	// Goto names the next node(s) to schedule as PUSH tasks for the
	// following superstep, bypassing the normal trigger-based PULL
	// planning for this hop. Multiple entries fan out, mirroring Send.
	Goto []string

	// Update carries channel writes alongside the routing decision, for
	// nodes that want to combine "write state" and "go here next" in one
	// return value instead of returning (Update, error) and a separate
	// Command.
	Update []Write

	// Resume supplies the value an Interrupt call inside the target task
	// should receive when the task is re-executed from its start. Only
	// meaningful when used as the argument to Engine.Resume.
	Resume any

	// Graph selects which graph level Goto routing applies to.
	Graph GraphTarget
}

// Send constructs a single PUSH-task routing directive: schedule node with
// the given payload as its task input, independent of the normal
// trigger/channel mechanism. Repeated Sends to the same node in one
// superstep fan out into that many concurrent tasks (map-reduce pattern,
// spec §4.4).
type Send struct {
	Node    string
	Payload any
}
