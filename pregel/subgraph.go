package pregel

import (
	"context"
	"fmt"
)

// composeNamespace builds the checkpoint namespace a subgraph invocation
// runs under: "parent_ns|node:task_id", so a subgraph's own checkpoint
// lineage never collides with a sibling invocation of the same node
// (spec §4.8), including two concurrent PUSH tasks fanned out to the same
// subgraph node.
func composeNamespace(parentNS, node, taskID string) string {
	if parentNS == "" {
		return fmt.Sprintf("%s:%s", node, taskID)
	}
	return fmt.Sprintf("%s|%s:%s", parentNS, node, taskID)
}

// runSubgraph invokes a node's Subgraph as a nested engine sharing the
// parent's checkpointer, under its own namespaced checkpoint lineage. Its
// final channel snapshot becomes this task's single write to a channel
// named after the node. A subgraph interrupt re-panics as the parent
// task's own interrupt so the outer superstep suspends in lockstep with
// the inner one. Resuming the parent thread re-enters this same task; if
// rc.interrupts already holds a value for it (recorded when the outer
// Engine.Resume call supplied a Command.Resume), that value is threaded
// into a nested Resume against the subgraph's own namespaced checkpoint
// instead of a fresh Invoke, so the inner interrupt that actually
// suspended receives it.
func (e *Engine) runSubgraph(ctx context.Context, node *NodeSpec, rc *runContext, task Task) ([]Write, *Command, error) {
	subEngine, err := node.Subgraph.Compile(subgraphOptions(rc.cfgOpts)...)
	if err != nil {
		return nil, nil, err
	}

	ns := composeNamespace(rc.namespace, task.Node, task.ID)
	subRunCfg := RunConfig{
		ThreadID:     rc.threadID,
		CheckpointNS: ns,
		Configurable: rc.runCfg.Configurable,
	}

	var values map[string]any
	if resumes := rc.interrupts[task.ID]; len(resumes) > 0 {
		values, err = subEngine.Resume(ctx, Command{Resume: resumes[len(resumes)-1]}, subRunCfg)
	} else {
		values, err = subEngine.Invoke(ctx, task.Input, subRunCfg)
	}
	if err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Code == "INTERRUPTED" {
			panic(interruptPanic{value: values})
		}
		return nil, nil, err
	}

	return []Write{{Channel: task.Node, Value: values}}, nil, nil
}

// subgraphOptions propagates the parent engine's ambient configuration
// (checkpointer, metrics, cost tracker, durability) to a nested graph
// compile, since a subgraph's own Graph definition carries no Options of
// its own.
func subgraphOptions(parent *engineConfig) []Option {
	var opts []Option
	if parent.checkpointer != nil {
		opts = append(opts, WithCheckpointer(parent.checkpointer))
	}
	if parent.metrics != nil {
		opts = append(opts, WithMetrics(parent.metrics))
	}
	if parent.costTracker != nil {
		opts = append(opts, WithCostTracker(parent.costTracker))
	}
	opts = append(opts,
		WithDurability(parent.durability),
		WithRecursionLimit(parent.recursionLimit),
		WithDefaultNodeTimeout(parent.defaultNodeTimeout),
		WithBackpressureTimeout(parent.backpressureTimeout),
		WithMaxConcurrentTasks(parent.maxConcurrentTasks),
	)
	return opts
}
