package pregel

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// contextKey namespaces values the engine stashes on a task's context so a
// NodeRunnable's nested calls (an HTTP client, a model adapter) can recover
// run provenance without threading it through every function signature.
type contextKey string

const (
	threadIDKey contextKey = "pregel.thread_id"
	taskIDKey   contextKey = "pregel.task_id"
	nodeNameKey contextKey = "pregel.node_name"
	attemptKey  contextKey = "pregel.attempt"
)

// runState is the state-machine label of a superstep, reported on debug
// stream events (spec §4.5): LOADING -> PLANNING -> RUNNING -> APPLYING ->
// CHECKPOINTING -> {PLANNING | DONE | INTERRUPTED | FAILED}.
type runState string

const (
	stateLoading       runState = "LOADING"
	statePlanning      runState = "PLANNING"
	stateRunning       runState = "RUNNING"
	stateApplying      runState = "APPLYING"
	stateCheckpointing runState = "CHECKPOINTING"
	stateDone          runState = "DONE"
	stateInterrupted   runState = "INTERRUPTED"
	stateFailed        runState = "FAILED"
)

// Engine is a compiled Graph ready to run. Create one with Graph.Compile.
type Engine struct {
	graph *Graph
	cfg   *engineConfig
}

func newEngine(g *Graph, cfg *engineConfig) *Engine {
	return &Engine{graph: g, cfg: cfg}
}

// initRNG seeds a deterministic random source from a thread id, so retry
// jitter is reproducible when replaying the same thread's history.
func initRNG(threadID string) *rand.Rand {
	h := sha256.Sum256([]byte(threadID))
	seed := int64(binary.BigEndian.Uint64(h[:8])) // #nosec G115 -- seed value, not security sensitive
	return rand.New(rand.NewSource(seed))         // #nosec G404 -- deterministic replay seed, not security sensitive
}

// runContext bundles the mutable state of one in-progress run of a thread
// (or subgraph namespace within it) across supersteps.
type runContext struct {
	threadID  string
	namespace string

	channels        map[string]Channel
	versions        *versionCounter
	channelVersions map[string]Version
	versionsSeen    map[string]map[string]Version
	pendingSends    []Send
	interrupts      map[string][]any

	step    int
	rng     *rand.Rand
	cfgOpts *engineConfig
	runCfg  RunConfig
	onEvent func(StreamEvent)
}

// Invoke runs the graph to completion, to an interrupt, or to a failure,
// returning the final snapshot of every channel's value.
func (e *Engine) Invoke(ctx context.Context, input any, runCfg RunConfig) (map[string]any, error) {
	rc, err := e.load(ctx, input, runCfg)
	if err != nil {
		return nil, err
	}
	results, err := e.runToQuiescence(ctx, rc)
	if err != nil {
		return nil, err
	}
	if len(results.interrupted) > 0 {
		return e.snapshot(rc), &EngineError{Code: "INTERRUPTED", Message: "pregel: run suspended at an interrupt"}
	}
	return e.snapshot(rc), nil
}

// Stream behaves like Invoke but returns a channel of StreamEvent as the
// run progresses, per runCfg.StreamMode (spec §4.10). The channel is
// closed when the run reaches DONE, INTERRUPTED, or FAILED.
func (e *Engine) Stream(ctx context.Context, input any, runCfg RunConfig) (<-chan StreamEvent, error) {
	rc, err := e.load(ctx, input, runCfg)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent, 16)
	rc.onEvent = func(ev StreamEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
		if e.cfg.emitter != nil {
			e.cfg.emitter(ev)
		}
	}
	go func() {
		defer close(out)
		_, _ = e.runToQuiescence(ctx, rc)
	}()
	return out, nil
}

// Resume continues a suspended run, supplying cmd.Resume as the value the
// suspended task's next Interrupt call should receive (spec §4.7).
func (e *Engine) Resume(ctx context.Context, cmd Command, runCfg RunConfig) (map[string]any, error) {
	if e.cfg.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	rc, pendingInterrupts, err := e.loadForResume(ctx, runCfg, cmd)
	if err != nil {
		return nil, err
	}
	results, err := e.runFrom(ctx, rc, pendingInterrupts)
	if err != nil {
		return nil, err
	}
	if len(results.interrupted) > 0 {
		return e.snapshot(rc), &EngineError{Code: "INTERRUPTED", Message: "pregel: run suspended at an interrupt"}
	}
	return e.snapshot(rc), nil
}

type stepOutcome struct {
	interrupted []TaskResult
}

// load builds a fresh runContext, restoring from the latest checkpoint for
// runCfg.ThreadID/CheckpointNS if one exists, or seeding a brand-new thread
// from the graph's entry point otherwise.
func (e *Engine) load(ctx context.Context, input any, runCfg RunConfig) (*runContext, error) {
	channels := make(map[string]Channel, len(e.graph.channels))
	for name, spec := range e.graph.channels {
		channels[name] = spec.Factory.new()
	}

	rc := &runContext{
		threadID:        runCfg.ThreadID,
		namespace:       runCfg.CheckpointNS,
		channels:        channels,
		versions:        &versionCounter{},
		channelVersions: make(map[string]Version),
		versionsSeen:    make(map[string]map[string]Version),
		interrupts:      make(map[string][]any),
		rng:             initRNG(runCfg.ThreadID),
		cfgOpts:         e.cfg,
		runCfg:          runCfg,
	}

	if e.cfg.checkpointer != nil {
		tuple, err := e.cfg.checkpointer.GetTuple(ctx, runCfg.ThreadID, runCfg.CheckpointNS, runCfg.CheckpointID)
		if err == nil {
			restoreChannels(channels, tuple.Checkpoint.ChannelValues)
			rc.versionsSeen = tuple.Checkpoint.VersionsSeen
			rc.pendingSends = tuple.Checkpoint.PendingSends
			rc.interrupts = tuple.Checkpoint.InterruptResumes
			rc.channelVersions = tuple.Checkpoint.ChannelVersions
			rc.step = tuple.Checkpoint.Step
			var maxVersion Version
			for _, v := range tuple.Checkpoint.ChannelVersions {
				if v > maxVersion {
					maxVersion = v
				}
			}
			rc.versions.restore(maxVersion)
			rc.pendingSends = append(rc.pendingSends, Send{Node: "", Payload: input})
			return rc, nil
		} else if err != ErrNotFound {
			return nil, err
		}
	}

	for _, node := range e.graph.entry {
		rc.pendingSends = append(rc.pendingSends, Send{Node: node, Payload: input})
	}
	return rc, nil
}

func (e *Engine) loadForResume(ctx context.Context, runCfg RunConfig, cmd Command) (*runContext, []Task, error) {
	channels := make(map[string]Channel, len(e.graph.channels))
	for name, spec := range e.graph.channels {
		channels[name] = spec.Factory.new()
	}

	tuple, err := e.cfg.checkpointer.GetTuple(ctx, runCfg.ThreadID, runCfg.CheckpointNS, runCfg.CheckpointID)
	if err != nil {
		return nil, nil, err
	}
	restoreChannels(channels, tuple.Checkpoint.ChannelValues)

	resumes := tuple.Checkpoint.InterruptResumes
	if resumes == nil {
		resumes = make(map[string][]any)
	}
	pending := tuple.Checkpoint.PendingInterrupts
	for _, t := range pending {
		resumes[t.ID] = append(resumes[t.ID], cmd.Resume)
	}

	rc := &runContext{
		threadID:        runCfg.ThreadID,
		namespace:       runCfg.CheckpointNS,
		channels:        channels,
		versions:        &versionCounter{},
		channelVersions: tuple.Checkpoint.ChannelVersions,
		versionsSeen:    tuple.Checkpoint.VersionsSeen,
		pendingSends:    append([]Send(nil), tuple.Checkpoint.PendingSends...),
		interrupts:      resumes,
		step:            tuple.Checkpoint.Step,
		rng:             initRNG(runCfg.ThreadID),
		cfgOpts:         e.cfg,
		runCfg:          runCfg,
	}
	var maxVersion Version
	for _, v := range tuple.Checkpoint.ChannelVersions {
		if v > maxVersion {
			maxVersion = v
		}
	}
	rc.versions.restore(maxVersion)

	if len(cmd.Update) > 0 {
		if rc.versionsSeen == nil {
			rc.versionsSeen = make(map[string]map[string]Version)
		}
		applyDirectUpdate(channels, rc.versions, cmd.Update)
	}

	return rc, pending, nil
}

func applyDirectUpdate(channels map[string]Channel, versions *versionCounter, writes []Write) {
	byChannel := make(map[string][]any)
	for _, w := range writes {
		byChannel[w.Channel] = append(byChannel[w.Channel], w.Value)
	}
	for name, values := range byChannel {
		if ch, ok := channels[name]; ok {
			_, _ = ch.Update(values)
			versions.next()
		}
	}
}

func restoreChannels(channels map[string]Channel, values map[string]any) {
	for name, ch := range channels {
		if v, ok := values[name]; ok {
			ch.Restore(v)
		}
	}
}

// runToQuiescence drives supersteps from rc.step until no task can run and
// no Sends are pending (DONE), a task suspends (INTERRUPTED), or an error
// occurs (FAILED).
func (e *Engine) runToQuiescence(ctx context.Context, rc *runContext) (stepOutcome, error) {
	return e.runFrom(ctx, rc, nil)
}

func (e *Engine) runFrom(ctx context.Context, rc *runContext, resumeTasks []Task) (stepOutcome, error) {
	e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: stateLoading})

	pendingInterruptTasks := resumeTasks
	startStep := rc.step

	for {
		var tasks []Task
		if len(pendingInterruptTasks) > 0 {
			tasks = pendingInterruptTasks
			pendingInterruptTasks = nil
		} else {
			tasks = planStep(e.graph, rc.step, rc.namespace, rc.channels, rc.channelVersions, rc.versionsSeen, rc.pendingSends)
			rc.pendingSends = nil
		}

		if len(tasks) == 0 {
			if rc.cfgOpts.durability == DurabilityExit {
				e.checkpoint(ctx, rc, nil)
			}
			e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: stateDone})
			return stepOutcome{}, nil
		}

		if rc.step-startStep >= rc.cfgOpts.recursionLimit {
			return stepOutcome{}, ErrGraphRecursion
		}

		e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: statePlanning})

		e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: stateRunning})
		results, err := runSuperstep(ctx, tasks, rc.cfgOpts.maxConcurrentTasks, rc.cfgOpts.backpressureTimeout, e.executor(rc), rc.cfgOpts.metrics, rc.threadID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stepOutcome{}, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		}
		if err != nil {
			return stepOutcome{}, err
		}

		var interrupted []TaskResult
		for _, res := range results {
			if res.Interrupted {
				interrupted = append(interrupted, res)
				// No placeholder is recorded here: rc.interrupts holds only
				// resolved resume values, in call order. The call that is
				// currently suspended has no entry yet — loadForResume adds
				// one, at the correct index, when a Command.Resume arrives.
				continue
			}
			if res.Err != nil {
				e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, NodeName: res.Task.Node, Payload: stateFailed, Err: res.Err})
				return stepOutcome{}, &NodeError{Message: res.Err.Error(), NodeName: res.Task.Node, Cause: res.Err}
			}
		}

		if len(interrupted) > 0 && e.cfg.checkpointer == nil {
			return stepOutcome{}, ErrNoCheckpointer
		}

		if len(interrupted) > 0 {
			interruptTasks := make([]Task, 0, len(interrupted))
			for _, r := range interrupted {
				interruptTasks = append(interruptTasks, r.Task)
			}
			e.checkpoint(ctx, rc, interruptTasks)
			e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: stateInterrupted})
			return stepOutcome{interrupted: interrupted}, nil
		}

		e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: stateApplying})
		changed, nextSends, err := applyWrites(rc.channels, results)
		if err != nil {
			return stepOutcome{}, err
		}
		for name := range changed {
			rc.channelVersions[name] = rc.versions.next()
		}
		for name, ch := range rc.channels {
			if _, ok := ch.(*ephemeralChannel); ok && !changed[name] {
				ch.Clear()
			}
		}
		for _, t := range tasks {
			if t.Kind == taskPull {
				markSeen(rc.versionsSeen, t.Node, t.triggers, rc.channelVersions)
			}
		}
		rc.pendingSends = nextSends

		e.emit(rc, StreamEvent{Mode: StreamUpdates, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Updates: updatesByNode(results)})

		if rc.cfgOpts.durability != DurabilityExit {
			e.emit(rc, StreamEvent{Mode: StreamDebug, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Payload: stateCheckpointing})
			e.checkpoint(ctx, rc, nil)
		}
		e.emit(rc, StreamEvent{Mode: StreamValues, ThreadID: rc.threadID, Namespace: rc.namespace, Step: rc.step, Values: e.snapshot(rc)})

		rc.step++
	}
}

// checkpoint persists the run's current state, recording pendingInterrupts
// if the superstep ended with suspended tasks.
func (e *Engine) checkpoint(ctx context.Context, rc *runContext, pendingInterrupts []Task) {
	if e.cfg.checkpointer == nil {
		return
	}
	cp := newCheckpoint(rc.threadID, rc.namespace, "", rc.step, rc.channels, rc.channelVersions, rc.versionsSeen, rc.pendingSends, rc.interrupts, pendingInterrupts, time.Now())
	meta := CheckpointMetadata{Source: "loop", Step: rc.step}
	if rc.cfgOpts.durability == DurabilitySync {
		_ = e.cfg.checkpointer.Put(ctx, cp, meta)
		return
	}
	go func() { _ = e.cfg.checkpointer.Put(context.Background(), cp, meta) }()
}

func (e *Engine) snapshot(rc *runContext) map[string]any {
	out := make(map[string]any, len(rc.channels))
	for name, ch := range rc.channels {
		if v, ok := ch.Get(); ok {
			out[name] = v
		}
	}
	return out
}

func (e *Engine) emit(rc *runContext, ev StreamEvent) {
	if !streamModeEnabled(rc.runCfg.StreamMode, ev.Mode) {
		return
	}
	if rc.onEvent != nil {
		rc.onEvent(ev)
	} else if e.cfg.emitter != nil {
		e.cfg.emitter(ev)
	}
}

// streamModeEnabled reports whether ev should be emitted given the modes a
// caller asked for in RunConfig.StreamMode. An empty StreamMode keeps the
// historical behavior of emitting everything, for callers (and the
// always-on WithEmitter sink) that never opted into mode filtering.
func streamModeEnabled(requested []StreamMode, mode StreamMode) bool {
	if len(requested) == 0 {
		return true
	}
	for _, m := range requested {
		if m == mode {
			return true
		}
	}
	return false
}

// updatesByNode groups a superstep's successful task writes by the node
// that produced them, for StreamUpdates events (spec §4.10).
func updatesByNode(results []TaskResult) map[string][]Write {
	out := make(map[string][]Write, len(results))
	for _, r := range results {
		if r.Interrupted || r.Err != nil || len(r.Writes) == 0 {
			continue
		}
		out[r.Task.Node] = append(out[r.Task.Node], r.Writes...)
	}
	return out
}

// executor returns the taskExecutor closure runSuperstep uses to run one
// task, wrapping the node's Runnable with timeout, retry, static
// interrupt-before/after checks, and interrupt-panic recovery.
func (e *Engine) executor(rc *runContext) taskExecutor {
	return func(ctx context.Context, task Task) TaskResult {
		node, ok := e.graph.nodes[task.Node]
		if !ok {
			return TaskResult{Task: task, Err: fmt.Errorf("pregel: unknown node %q", task.Node)}
		}

		if containsStr(rc.cfgOpts.interruptBefore, task.Node) && len(rc.interrupts[task.ID]) == 0 {
			return TaskResult{Task: task, Interrupted: true, InterruptValue: fmt.Sprintf("interrupt_before:%s", task.Node)}
		}

		taskCtx := context.WithValue(ctx, threadIDKey, rc.threadID)
		taskCtx = context.WithValue(taskCtx, taskIDKey, task.ID)
		taskCtx = context.WithValue(taskCtx, nodeNameKey, task.Node)

		var policy *NodePolicy
		if node.Policy != nil {
			policy = node.Policy
		}

		timeout := getNodeTimeout(policy, rc.cfgOpts.defaultNodeTimeout)

		maxAttempts := 1
		var retryPolicy *RetryPolicy
		if policy != nil && policy.RetryPolicy != nil {
			retryPolicy = policy.RetryPolicy
			maxAttempts = retryPolicy.MaxAttempts
		}

		var result TaskResult
		for attempt := 0; attempt < maxAttempts; attempt++ {
			attemptCtx := context.WithValue(taskCtx, attemptKey, attempt)
			if timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
				result = e.runOneTask(attemptCtx, node, rc, task)
				cancel()
			} else {
				result = e.runOneTask(attemptCtx, node, rc, task)
			}

			if result.Interrupted || result.Err == nil {
				break
			}
			if retryPolicy == nil || retryPolicy.Retryable == nil || !retryPolicy.Retryable(result.Err) {
				break
			}
			if rc.cfgOpts.metrics != nil {
				rc.cfgOpts.metrics.IncrementRetries(rc.threadID, task.Node, "error")
			}
			if attempt < maxAttempts-1 {
				delay := computeBackoff(attempt, retryPolicy.BaseDelay, retryPolicy.MaxDelay, rc.rng)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return TaskResult{Task: task, Err: ctx.Err()}
				}
			}
		}

		if containsStr(rc.cfgOpts.interruptAfter, task.Node) && result.Err == nil && !result.Interrupted && len(rc.interrupts[task.ID]) == 0 {
			result.Interrupted = true
			result.InterruptValue = fmt.Sprintf("interrupt_after:%s", task.Node)
		}

		return result
	}
}

// runOneTask invokes a single node's Runnable, recovering an
// interruptPanic into a suspended TaskResult instead of letting it
// propagate as a crash.
func (e *Engine) runOneTask(ctx context.Context, node *NodeSpec, rc *runContext, task Task) (result TaskResult) {
	resumes := rc.interrupts[task.ID]
	rt := newRuntime(task.ID, task.Node, rc.namespace, rc.channels, resumes)

	defer func() {
		if r := recover(); r != nil {
			if ip, ok := r.(interruptPanic); ok {
				result = TaskResult{Task: task, Interrupted: true, InterruptValue: ip.value}
				return
			}
			result = TaskResult{Task: task, Err: fmt.Errorf("pregel: task %s panicked: %v", task.ID, r)}
		}
	}()

	var writes []Write
	var cmd *Command
	var err error
	if node.Subgraph != nil {
		writes, cmd, err = e.runSubgraph(ctx, node, rc, task)
	} else {
		writes, cmd, err = node.Runnable.Run(ctx, rt, task.Input)
	}

	if len(rt.localWrites) > 0 {
		writes = append(append([]Write(nil), rt.localWrites...), writes...)
	}

	return TaskResult{Task: task, Writes: writes, Command: cmd, Err: err}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetState returns the latest checkpoint snapshot for a thread/namespace
// as a StateSnapshot (spec §4.11).
func (e *Engine) GetState(ctx context.Context, runCfg RunConfig) (StateSnapshot, error) {
	if e.cfg.checkpointer == nil {
		return StateSnapshot{}, ErrNoCheckpointer
	}
	tuple, err := e.cfg.checkpointer.GetTuple(ctx, runCfg.ThreadID, runCfg.CheckpointNS, runCfg.CheckpointID)
	if err != nil {
		return StateSnapshot{}, err
	}
	return snapshotFromTuple(e.graph, tuple), nil
}

// GetStateHistory returns every checkpoint for a thread/namespace, newest
// first, for time-travel debugging and forking.
func (e *Engine) GetStateHistory(ctx context.Context, runCfg RunConfig, limit int) ([]StateSnapshot, error) {
	if e.cfg.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	tuples, err := e.cfg.checkpointer.List(ctx, runCfg.ThreadID, runCfg.CheckpointNS, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StateSnapshot, len(tuples))
	for i, t := range tuples {
		out[i] = snapshotFromTuple(e.graph, t)
	}
	return out, nil
}

// UpdateState writes values directly into channels as if a node had
// returned them, without running any node, producing a new checkpoint
// forked from the given (or latest) one (spec §4.11).
func (e *Engine) UpdateState(ctx context.Context, runCfg RunConfig, writes []Write) (string, error) {
	if e.cfg.checkpointer == nil {
		return "", ErrNoCheckpointer
	}
	tuple, err := e.cfg.checkpointer.GetTuple(ctx, runCfg.ThreadID, runCfg.CheckpointNS, runCfg.CheckpointID)
	if err != nil && err != ErrNotFound {
		return "", err
	}

	channels := make(map[string]Channel, len(e.graph.channels))
	for name, spec := range e.graph.channels {
		channels[name] = spec.Factory.new()
	}
	parentID := ""
	step := 0
	versions := &versionCounter{}
	channelVersions := make(map[string]Version)
	versionsSeen := make(map[string]map[string]Version)
	if err == nil {
		restoreChannels(channels, tuple.Checkpoint.ChannelValues)
		parentID = tuple.Checkpoint.ID
		step = tuple.Checkpoint.Step + 1
		var maxVersion Version
		for name, v := range tuple.Checkpoint.ChannelVersions {
			channelVersions[name] = v
			if v > maxVersion {
				maxVersion = v
			}
		}
		for node, seen := range tuple.Checkpoint.VersionsSeen {
			inner := make(map[string]Version, len(seen))
			for ch, v := range seen {
				inner[ch] = v
			}
			versionsSeen[node] = inner
		}
		versions.restore(maxVersion)
	}

	byChannel := make(map[string][]any)
	for _, w := range writes {
		byChannel[w.Channel] = append(byChannel[w.Channel], w.Value)
	}
	for name, values := range byChannel {
		ch, ok := channels[name]
		if !ok {
			return "", ErrUnknownChannel
		}
		if _, err := ch.Update(values); err != nil {
			return "", err
		}
		channelVersions[name] = versions.next()
	}

	cp := newCheckpoint(runCfg.ThreadID, runCfg.CheckpointNS, parentID, step, channels, channelVersions, versionsSeen, nil, nil, nil, time.Now())
	meta := CheckpointMetadata{Source: "update", Step: step}
	if err := e.cfg.checkpointer.Put(ctx, cp, meta); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// BulkUpdateState applies several UpdateState-style writes as one new
// checkpoint instead of one per call.
func (e *Engine) BulkUpdateState(ctx context.Context, runCfg RunConfig, batches [][]Write) (string, error) {
	var flat []Write
	for _, b := range batches {
		flat = append(flat, b...)
	}
	return e.UpdateState(ctx, runCfg, flat)
}
