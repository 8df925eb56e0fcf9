package pregel

import "time"

// Option is a functional option for configuring a Graph's compiled Engine.
//
// Example:
//
//	engine, err := g.Compile(
//	    pregel.WithCheckpointer(store),
//	    pregel.WithRecursionLimit(50),
//	    pregel.WithInterruptBefore("approval"),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to a compiled Engine.
type engineConfig struct {
	checkpointer   CheckpointStore
	emitter        EmitterFunc
	recursionLimit int
	interruptBefore []string
	interruptAfter  []string
	durability      Durability
	defaultNodeTimeout time.Duration
	backpressureTimeout time.Duration
	maxConcurrentTasks int
	metrics        *PrometheusMetrics
	costTracker    *CostTracker
}

// Durability controls when a superstep's checkpoint is considered durable
// relative to returning control to the caller (spec §4.6).
type Durability int

const (
	// DurabilityAsync persists the checkpoint in the background; Invoke/Stream
	// return as soon as the superstep's writes are applied in memory.
	DurabilityAsync Durability = iota
	// DurabilitySync blocks each superstep until its checkpoint write
	// completes before planning the next superstep.
	DurabilitySync
	// DurabilityExit persists only once, when the run reaches a terminal
	// state or an interrupt — intermediate supersteps are not checkpointed.
	DurabilityExit
)

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		recursionLimit:      25,
		durability:          DurabilityAsync,
		defaultNodeTimeout:  0,
		backpressureTimeout: 30 * time.Second,
		maxConcurrentTasks:  8,
	}
}

// WithCheckpointer attaches a CheckpointStore, required for Interrupt,
// Resume, GetStateHistory, and UpdateState (spec §4.3, §4.7).
func WithCheckpointer(store CheckpointStore) Option {
	return func(cfg *engineConfig) error {
		cfg.checkpointer = store
		return nil
	}
}

// WithEmitter registers a callback invoked for each StreamEvent the engine
// emits, independent of any Stream call in progress — useful for a single
// always-on observability sink alongside ad hoc Stream consumers. Events are
// filtered by the run's RunConfig.StreamMode exactly as Stream's are; with an
// empty StreamMode the callback receives every event.
func WithEmitter(fn EmitterFunc) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = fn
		return nil
	}
}

// WithRecursionLimit caps the number of supersteps a single Invoke/Stream
// call may execute before returning ErrGraphRecursion. Default: 25.
func WithRecursionLimit(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.recursionLimit = n
		return nil
	}
}

// WithInterruptBefore names nodes the engine should suspend before
// executing, every time they are about to run, independent of any
// interrupt() call inside the node itself (spec §4.7 static interrupts).
func WithInterruptBefore(nodes ...string) Option {
	return func(cfg *engineConfig) error {
		cfg.interruptBefore = append(cfg.interruptBefore, nodes...)
		return nil
	}
}

// WithInterruptAfter names nodes the engine should suspend after executing.
func WithInterruptAfter(nodes ...string) Option {
	return func(cfg *engineConfig) error {
		cfg.interruptAfter = append(cfg.interruptAfter, nodes...)
		return nil
	}
}

// WithDurability sets when checkpoints become durable relative to
// superstep completion. Default: DurabilityAsync.
func WithDurability(d Durability) Option {
	return func(cfg *engineConfig) error {
		cfg.durability = d
		return nil
	}
}

// WithDefaultNodeTimeout bounds how long a task may run before the engine
// cancels its context, for tasks whose NodePolicy does not set its own
// Timeout. Default: unlimited.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithBackpressureTimeout bounds how long the scheduler waits for task
// frontier capacity before a superstep fails with ErrBackpressureTimeout.
// Default: 30s.
func WithBackpressureTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.backpressureTimeout = d
		return nil
	}
}

// WithMaxConcurrentTasks bounds how many of a single superstep's tasks run
// at once. Default: 8.
func WithMaxConcurrentTasks(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.maxConcurrentTasks = n
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection for the compiled
// engine (spec's ambient observability stack).
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithCostTracker attaches a CostTracker to the engine's configuration,
// which passes it on to subgraphs. The engine records nothing into it and
// Runtime offers no accessor for it.
func WithCostTracker(ct *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.costTracker = ct
		return nil
	}
}

// RunConfig carries the per-invocation parameters of Invoke/Stream/Resume:
// which thread (and, for subgraphs, which namespace) a run belongs to, and
// arbitrary user configurable values nodes may read back via Runtime.
type RunConfig struct {
	ThreadID      string
	CheckpointNS  string
	CheckpointID  string
	Configurable  map[string]any
	Tags          []string
	Metadata      map[string]any
	RunID         string
	RunName       string
	StreamMode    []StreamMode
	StreamSubgraphs bool
}
