package pregel

// StreamMode selects what a Stream call emits, mirroring LangGraph's
// stream_mode parameter (spec §4.10).
type StreamMode string

const (
	// StreamValues emits the full channel value snapshot after every
	// superstep.
	StreamValues StreamMode = "values"
	// StreamUpdates emits only the writes each task produced during the
	// superstep, keyed by node name.
	StreamUpdates StreamMode = "updates"
	// StreamMessages names a mode for incremental tokens/messages. The
	// engine emits no events with this mode, and Runtime has no method for
	// pushing them.
	StreamMessages StreamMode = "messages"
	// StreamCustom names a mode for application-defined payloads. The
	// engine emits no events with this mode, and Runtime has no method for
	// writing them.
	StreamCustom StreamMode = "custom"
	// StreamDebug emits one event per planner/applier/checkpoint
	// transition, for diagnosing engine behavior itself.
	StreamDebug StreamMode = "debug"
)

// StreamEvent is one item produced by Engine.Stream or delivered to an
// EmitterFunc registered with WithEmitter.
type StreamEvent struct {
	Mode      StreamMode
	ThreadID  string
	Namespace string
	Step      int
	NodeName  string
	TaskID    string
	Values    map[string]any
	Updates   map[string][]Write
	Payload   any
	Err       error
}

// EmitterFunc receives each StreamEvent an engine emits that passes the
// run's RunConfig.StreamMode filter (every event when StreamMode is empty),
// regardless of whether a Stream call is active — the always-on sink
// counterpart to Stream's pull-based channel.
type EmitterFunc func(StreamEvent)
