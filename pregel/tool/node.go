package tool

import (
	"context"
	"fmt"

	"github.com/dshills/pregel-go/pregel"
	"github.com/dshills/pregel-go/pregel/model"
)

// Registry maps a tool name (matching model.ToolCall.Name) to its
// implementation.
type Registry map[string]Tool

// NewToolNode adapts a Registry into a pregel.NodeRunnable. It dispatches
// every pending model.ToolCall it can find — the ones already accumulated
// on callsChannel (a Topic a chat node writes to) plus, when the node is
// entered directly (e.g. as a graph's entry point, or PUSHed a Send), the
// ToolCall carried as this task's own input — and writes each result to
// resultsChannel so a chat node triggered by that channel's advancement
// can fold the results back into the conversation.
func NewToolNode(reg Registry, callsChannel, resultsChannel string) pregel.NodeRunnable {
	return pregel.NodeFunc(func(ctx context.Context, rt pregel.Runtime, input any) ([]pregel.Write, *pregel.Command, error) {
		pending := make([]model.ToolCall, 0, 1)

		if raw, ok := rt.Get(callsChannel); ok {
			accumulated, ok := raw.([]any)
			if !ok {
				return nil, nil, fmt.Errorf("pregel/tool: channel %q does not hold a Topic accumulation of tool calls", callsChannel)
			}
			for _, v := range accumulated {
				if call, ok := v.(model.ToolCall); ok {
					pending = append(pending, call)
				}
			}
		}
		if call, ok := input.(model.ToolCall); ok {
			pending = append(pending, call)
		}

		writes := make([]pregel.Write, 0, len(pending))
		for _, call := range pending {
			t, ok := reg[call.Name]
			if !ok {
				return nil, nil, fmt.Errorf("pregel/tool: no tool registered for %q", call.Name)
			}
			out, err := t.Call(ctx, call.Input)
			if err != nil {
				return nil, nil, &pregel.NodeError{Message: fmt.Sprintf("tool %q failed", call.Name), NodeName: rt.NodeName(), Cause: err}
			}
			writes = append(writes, pregel.Write{Channel: resultsChannel, Value: out})
		}
		return writes, nil, nil
	})
}
