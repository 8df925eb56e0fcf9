package model_test

import (
	"context"
	"testing"

	"github.com/dshills/pregel-go/pregel"
	"github.com/dshills/pregel-go/pregel/model"
)

func TestChatNodeWiredIntoGraph(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "hello back"}}}

	g := pregel.NewGraph("chat").
		AddChannel(pregel.Topic("conversation", true)).
		AddNode(pregel.NodeSpec{
			Name:     "assistant",
			Runnable: model.NewChatNode(mock, model.NodeConfig{InputChannel: "conversation", OutputChannel: "conversation"}),
		}).
		SetEntryPoint("assistant")

	engine, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	out, err := engine.Invoke(context.Background(), model.Message{Role: model.RoleUser, Content: "hi"}, pregel.RunConfig{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	conv, ok := out["conversation"].([]any)
	if !ok || len(conv) == 0 {
		t.Fatalf("expected conversation channel populated, got %v", out["conversation"])
	}
	last, ok := conv[len(conv)-1].(model.Message)
	if !ok || last.Content != "hello back" {
		t.Fatalf("expected assistant reply 'hello back', got %v", conv[len(conv)-1])
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected exactly 1 model call, got %d", mock.CallCount())
	}
}

func TestChatNodeSurfacesModelErrorAsNodeError(t *testing.T) {
	mock := &model.MockChatModel{Err: context.DeadlineExceeded}

	g := pregel.NewGraph("chat").
		AddChannel(pregel.Topic("conversation", true)).
		AddNode(pregel.NodeSpec{
			Name:     "assistant",
			Runnable: model.NewChatNode(mock, model.NodeConfig{InputChannel: "conversation", OutputChannel: "conversation"}),
		}).
		SetEntryPoint("assistant")

	engine, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	_, err = engine.Invoke(context.Background(), model.Message{Role: model.RoleUser, Content: "hi"}, pregel.RunConfig{ThreadID: "t1"})
	if err == nil {
		t.Fatalf("expected the model error to fail the run")
	}
}

func TestChatNodeRoutesToolCallsToConfiguredChannel(t *testing.T) {
	mock := &model.MockChatModel{Responses: []model.ChatOut{
		{ToolCalls: []model.ToolCall{{Name: "get_weather", Input: map[string]interface{}{"location": "Paris"}}}},
	}}

	g := pregel.NewGraph("chat").
		AddChannel(pregel.Topic("conversation", true)).
		AddChannel(pregel.Topic("tool_calls", true)).
		AddNode(pregel.NodeSpec{
			Name: "assistant",
			Runnable: model.NewChatNode(mock, model.NodeConfig{
				InputChannel:     "conversation",
				OutputChannel:    "conversation",
				ToolCallsChannel: "tool_calls",
			}),
		}).
		SetEntryPoint("assistant")

	engine, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	out, err := engine.Invoke(context.Background(), model.Message{Role: model.RoleUser, Content: "what's the weather?"}, pregel.RunConfig{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	calls, ok := out["tool_calls"].([]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("expected 1 routed tool call, got %v", out["tool_calls"])
	}
	call, ok := calls[0].(model.ToolCall)
	if !ok || call.Name != "get_weather" {
		t.Fatalf("expected get_weather tool call, got %v", calls[0])
	}
}
