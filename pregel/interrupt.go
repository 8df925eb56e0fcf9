package pregel

// interruptPanic unwinds a task's call stack when it suspends via
// Runtime.Interrupt with no recorded resume value available. The engine
// recovers it in runOneTask and converts it into a TaskResult, the same
// way the engine once turned a raw context.DeadlineExceeded into a
// structured error instead of letting it leak to node authors: a node
// implementation never observes interruptPanic directly, only the plain
// return value of Interrupt on a later, resumed execution.
type interruptPanic struct {
	value any
}

// runtimeImpl is the concrete Runtime handed to a NodeRunnable for the
// duration of one task's execution.
type runtimeImpl struct {
	taskID    string
	nodeName  string
	namespace string

	channels map[string]Channel

	// localWrites holds writes this task has recorded so far during its
	// own execution. Get returns the raw value of the most recent one for a
	// channel; it is not merged through the channel's rule with committed
	// state (spec §4.9). It never mutates shared channels.
	localWrites []Write

	// resumes holds previously recorded resume values for this task's
	// Interrupt calls, replayed in order on re-execution after a resume.
	resumes []any
	callIdx int
}

func newRuntime(taskID, nodeName, namespace string, channels map[string]Channel, resumes []any) *runtimeImpl {
	return &runtimeImpl{
		taskID:    taskID,
		nodeName:  nodeName,
		namespace: namespace,
		channels:  channels,
		resumes:   resumes,
	}
}

// Get implements Runtime, applying the local-read rule: the most recent of
// this task's own uncommitted writes to channel, if any, otherwise the
// channel's last committed value.
func (rt *runtimeImpl) Get(channel string) (any, bool) {
	for i := len(rt.localWrites) - 1; i >= 0; i-- {
		if rt.localWrites[i].Channel == channel {
			return rt.localWrites[i].Value, true
		}
	}
	ch, ok := rt.channels[channel]
	if !ok {
		return nil, false
	}
	return ch.Get()
}

// recordWrite tracks a write so later Get calls within the same task
// observe it, per the local-read rule (spec §4.9).
func (rt *runtimeImpl) recordWrite(w Write) {
	rt.localWrites = append(rt.localWrites, w)
}

// Write implements Runtime.
func (rt *runtimeImpl) Write(channel string, value any) {
	rt.recordWrite(Write{Channel: channel, Value: value})
}

// Interrupt implements Runtime. If this call index was already resolved by
// a prior suspend-and-resume cycle, it returns the recorded resume value
// immediately. Otherwise it suspends the task by panicking with
// interruptPanic, unwound and converted to a TaskResult by runOneTask.
func (rt *runtimeImpl) Interrupt(value any) any {
	idx := rt.callIdx
	rt.callIdx++
	if idx < len(rt.resumes) {
		return rt.resumes[idx]
	}
	panic(interruptPanic{value: value})
}

func (rt *runtimeImpl) TaskID() string    { return rt.taskID }
func (rt *runtimeImpl) NodeName() string  { return rt.nodeName }
func (rt *runtimeImpl) Namespace() string { return rt.namespace }
