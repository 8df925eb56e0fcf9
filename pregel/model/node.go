package model

import (
	"context"

	"github.com/dshills/pregel-go/pregel"
)

// NodeConfig configures a chat node built by NewChatNode: which channel
// carries the running conversation, which channel receives the model's
// reply, which channel (if any) receives tool calls the model wants
// executed, and which tools the model may call.
type NodeConfig struct {
	InputChannel     string
	OutputChannel    string
	ToolCallsChannel string
	Tools            []ToolSpec
}

// NewChatNode adapts a ChatModel into a pregel.NodeRunnable. Each
// invocation reads the conversation so far off cfg.InputChannel under the
// local-read rule, calls Chat, and writes the assistant's reply back as a
// new Message on cfg.OutputChannel (a Topic channel accumulates the full
// conversation across turns). If the reply carries tool calls and
// cfg.ToolCallsChannel is set, each ToolCall is written there for a
// tool.NewToolNode (or equivalent) to dispatch on the next superstep.
func NewChatNode(m ChatModel, cfg NodeConfig) pregel.NodeRunnable {
	return pregel.NodeFunc(func(ctx context.Context, rt pregel.Runtime, input any) ([]pregel.Write, *pregel.Command, error) {
		messages, _ := rt.Get(cfg.InputChannel)
		history, _ := messages.([]any)

		conv := make([]Message, 0, len(history)+1)
		for _, h := range history {
			if msg, ok := h.(Message); ok {
				conv = append(conv, msg)
			}
		}
		if turn, ok := input.(Message); ok {
			conv = append(conv, turn)
		}

		out, err := m.Chat(ctx, conv, cfg.Tools)
		if err != nil {
			return nil, nil, &pregel.NodeError{Message: "chat model call failed", NodeName: rt.NodeName(), Cause: err}
		}

		reply := Message{Role: RoleAssistant, Content: out.Text}
		writes := []pregel.Write{{Channel: cfg.OutputChannel, Value: reply}}
		if len(out.ToolCalls) > 0 && cfg.ToolCallsChannel != "" {
			for _, call := range out.ToolCalls {
				writes = append(writes, pregel.Write{Channel: cfg.ToolCallsChannel, Value: call})
			}
		}
		return writes, nil, nil
	})
}
