// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/mcp"
)

// scriptedModel replays a fixed sequence of model responses.
type scriptedModel struct {
	script []llm.TextStreamEvent
	calls  int
}

func textReply(text string) llm.TextStreamEvent {
	return llm.TextStreamEvent{Type: llm.EventTypeText, Value: text}
}

func toolCallReply(calls ...llm.ToolCall) llm.TextStreamEvent {
	return llm.TextStreamEvent{Type: llm.EventTypeToolCalls, Value: calls}
}

func (m *scriptedModel) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	if m.calls >= len(m.script) {
		return nil, fmt.Errorf("model called %d times, script has %d entries", m.calls+1, len(m.script))
	}
	event := m.script[m.calls]
	m.calls++

	stream := make(chan llm.TextStreamEvent, 2)
	stream <- event
	if event.Type == llm.EventTypeText {
		stream <- llm.TextStreamEvent{Type: llm.EventTypeEnd}
	}
	close(stream)
	return &llm.TextStreamResult{Stream: stream}, nil
}

func (m *scriptedModel) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	result, err := m.ChatCompletion(request, opts...)
	if err != nil {
		return "", err
	}
	return result.ReadAll()
}

func (m *scriptedModel) CountTokens(text string) int { return len(text) / 4 }
func (m *scriptedModel) InputTokenLimit() int        { return 100000 }

type recordedInvocation struct {
	name string
	args json.RawMessage
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newAddRegistry builds a registry with one "add" tool whose resolver answers
// from the given function and records every invocation.
func newAddRegistry(t *testing.T, invocations *[]recordedInvocation, resolve func() (string, error)) *llm.ToolStore {
	t.Helper()
	store := llm.NewToolStore(nil, false)
	require.NoError(t, store.Register(llm.Tool{
		Name:        "add",
		Description: "Adds two integers",
		Resolver: func(ctx *llm.Context, argsGetter llm.ToolArgumentGetter) (string, error) {
			var raw json.RawMessage
			if err := argsGetter(&raw); err != nil {
				return "", err
			}
			*invocations = append(*invocations, recordedInvocation{name: "add", args: raw})
			return resolve()
		},
	}))
	return store
}

func TestRunWithSingleToolCall(t *testing.T) {
	var invocations []recordedInvocation
	store := newAddRegistry(t, &invocations, func() (string, error) { return "4", nil })

	model := &scriptedModel{script: []llm.TextStreamEvent{
		toolCallReply(llm.ToolCall{ID: "call_1", Name: "add", Arguments: json.RawMessage(`{"a":2,"b":2}`)}),
		textReply("4"),
	}}

	agent := New(model, store, testLogger(), Config{SystemPrompt: "be helpful"})
	reply, err := agent.Run(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", reply)

	// Exactly one invocation reached the tool, with the directive's arguments.
	require.Len(t, invocations, 1)
	assert.JSONEq(t, `{"a":2,"b":2}`, string(invocations[0].args))
}

func TestRunConversationShape(t *testing.T) {
	var invocations []recordedInvocation
	store := newAddRegistry(t, &invocations, func() (string, error) { return "4", nil })

	model := &scriptedModel{script: []llm.TextStreamEvent{
		toolCallReply(llm.ToolCall{ID: "call_1", Name: "add", Arguments: json.RawMessage(`{"a":2,"b":2}`)}),
		textReply("4"),
	}}

	agent := New(model, store, testLogger(), Config{SystemPrompt: "be helpful"})
	conversation := NewConversation()
	conversation.AddSystemPost("be helpful")
	conversation.AddUserPost("What is 2+2?")

	reply, err := agent.Step(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "4", reply)

	// user, assistant tool call, tool result, assistant final
	turns := conversation.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, TurnRoleUser, turns[0].Role)
	assert.Equal(t, TurnRoleAssistant, turns[1].Role)
	assert.Equal(t, TurnRoleTool, turns[2].Role)
	assert.Equal(t, "4", turns[2].Text)
	assert.Equal(t, TurnRoleAssistant, turns[3].Role)
	assert.Equal(t, "4", turns[3].Text)
}

func TestRunToolLoopLimit(t *testing.T) {
	const maxDepth = 3

	var invocations []recordedInvocation
	store := newAddRegistry(t, &invocations, func() (string, error) { return "keep going", nil })

	// More directives than the depth limit allows.
	script := make([]llm.TextStreamEvent, 0, maxDepth+2)
	for range maxDepth + 2 {
		script = append(script, toolCallReply(llm.ToolCall{ID: "call", Name: "add", Arguments: json.RawMessage(`{}`)}))
	}

	model := &scriptedModel{script: script}
	agent := New(model, store, testLogger(), Config{MaxToolDepth: maxDepth})

	conversation := NewConversation()
	conversation.AddUserPost("loop forever")
	_, err := agent.Step(context.Background(), conversation)
	require.ErrorIs(t, err, ErrToolLoopLimit)

	// No turns beyond the limit: one user turn plus one assistant+tool pair
	// per permitted round.
	assert.Len(t, conversation.Turns(), 1+2*maxDepth)
	assert.Len(t, invocations, maxDepth)
}

func TestRunToolFailureIsFoldedIntoConversation(t *testing.T) {
	var invocations []recordedInvocation
	store := newAddRegistry(t, &invocations, func() (string, error) { return "", fmt.Errorf("boom") })

	model := &scriptedModel{script: []llm.TextStreamEvent{
		toolCallReply(llm.ToolCall{ID: "call_1", Name: "add", Arguments: json.RawMessage(`{}`)}),
		textReply("the tool is broken"),
	}}

	agent := New(model, store, testLogger(), Config{})
	conversation := NewConversation()
	conversation.AddUserPost("add something")

	reply, err := agent.Step(context.Background(), conversation)
	require.NoError(t, err)
	assert.Equal(t, "the tool is broken", reply)

	turns := conversation.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, TurnRoleTool, turns[2].Role)
	assert.Contains(t, turns[2].Text, "Tool call failed")
}

func TestRunUnknownToolIsFoldedIntoConversation(t *testing.T) {
	store := llm.NewToolStore(nil, false)

	model := &scriptedModel{script: []llm.TextStreamEvent{
		toolCallReply(llm.ToolCall{ID: "call_1", Name: "missing", Arguments: json.RawMessage(`{}`)}),
		textReply("no such tool"),
	}}

	agent := New(model, store, testLogger(), Config{})
	reply, err := agent.Run(context.Background(), "use a tool")
	require.NoError(t, err)
	assert.Equal(t, "no such tool", reply)
}

func TestRunToolTimeoutIsTerminal(t *testing.T) {
	var invocations []recordedInvocation
	store := newAddRegistry(t, &invocations, func() (string, error) {
		return "", fmt.Errorf("%w: tool add on server srv", mcp.ErrToolCallTimeout)
	})

	model := &scriptedModel{script: []llm.TextStreamEvent{
		toolCallReply(llm.ToolCall{ID: "call_1", Name: "add", Arguments: json.RawMessage(`{}`)}),
	}}

	agent := New(model, store, testLogger(), Config{})
	_, err := agent.Run(context.Background(), "add slowly")
	require.ErrorIs(t, err, mcp.ErrToolCallTimeout)
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := New(&scriptedModel{}, llm.NewNoTools(), testLogger(), Config{})
	_, err := agent.Run(ctx, "anything")
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractOutputTags(t *testing.T) {
	agent := New(&scriptedModel{}, llm.NewNoTools(), testLogger(), Config{OutputTags: []string{"<answer>", "</answer>"}})

	assert.Equal(t, "42", agent.extractOutput("thinking...<answer>42</answer>"))
	assert.Equal(t, "no tags here", agent.extractOutput("no tags here"))
}
