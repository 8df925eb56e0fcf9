package pregel

import "fmt"

// Graph is the builder for a superstep computation: its channels and their
// merge semantics, its nodes and what triggers them, and its entry point.
// A Graph is immutable once Compile succeeds; build a new Graph to change
// topology.
type Graph struct {
	name     string
	channels map[string]ChannelSpec
	nodes    map[string]*NodeSpec
	entry    []string
}

// NewGraph creates an empty graph builder. name is used only for logging
// and tracing attributes.
func NewGraph(name string) *Graph {
	return &Graph{
		name:     name,
		channels: make(map[string]ChannelSpec),
		nodes:    make(map[string]*NodeSpec),
	}
}

// AddChannel registers a channel on the graph. Every channel a node writes
// to or triggers off of must be added before Compile.
func (g *Graph) AddChannel(spec ChannelSpec) *Graph {
	g.channels[spec.Name] = spec
	return g
}

// AddNode registers a node. Panics-free validation happens in Compile, not
// here, so nodes can be added in any order regardless of their trigger
// dependencies.
func (g *Graph) AddNode(spec NodeSpec) *Graph {
	n := spec
	g.nodes[spec.Name] = &n
	return g
}

// SetEntryPoint names the node(s) scheduled as PUSH tasks for step 0, fired
// when a run starts with no prior checkpoint. Equivalent to an edge from
// START.
func (g *Graph) SetEntryPoint(nodes ...string) *Graph {
	g.entry = append(g.entry, nodes...)
	return g
}

// Compile validates the graph and returns a ready-to-run Engine.
func (g *Graph) Compile(opts ...Option) (*Engine, error) {
	if len(g.entry) == 0 {
		return nil, &EngineError{Code: "NO_ENTRY_POINT", Message: "pregel: graph has no entry point"}
	}
	for _, n := range g.nodes {
		if n.Runnable == nil && n.Subgraph == nil {
			return nil, &EngineError{Code: "NODE_MISSING_RUNNABLE", Message: fmt.Sprintf("pregel: node %q has neither a Runnable nor a Subgraph", n.Name)}
		}
		for _, trig := range n.Triggers {
			if trig == START {
				continue
			}
			if _, ok := g.channels[trig]; !ok {
				return nil, &EngineError{Code: "UNKNOWN_TRIGGER", Message: fmt.Sprintf("pregel: node %q triggers on unknown channel %q", n.Name, trig)}
			}
		}
	}
	for _, entryNode := range g.entry {
		if _, ok := g.nodes[entryNode]; !ok {
			return nil, &EngineError{Code: "UNKNOWN_ENTRY_NODE", Message: fmt.Sprintf("pregel: entry point node %q not registered", entryNode)}
		}
	}

	if _, ok := g.channels[tasksChannel]; !ok {
		g.channels[tasksChannel] = Topic(tasksChannel, false)
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return newEngine(g, cfg), nil
}
