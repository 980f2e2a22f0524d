// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"io"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/metrics"
)

type fakeSession struct {
	callErrs    []error
	callResults []*mcpgo.CallToolResult
	calls       int
	closed      bool
	lastArgs    map[string]any
}

func (f *fakeSession) Initialize(ctx context.Context, request mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error) {
	return &mcpgo.InitializeResult{}, nil
}

func (f *fakeSession) ListTools(ctx context.Context, request mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error) {
	return &mcpgo.ListToolsResult{}, nil
}

func (f *fakeSession) CallTool(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	call := f.calls
	f.calls++
	f.lastArgs = request.Params.Arguments
	if call < len(f.callErrs) && f.callErrs[call] != nil {
		return nil, f.callErrs[call]
	}
	if call < len(f.callResults) {
		return f.callResults[call], nil
	}
	return nil, io.EOF
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func textResult(text string) *mcpgo.CallToolResult {
	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: text}},
	}
}

func newTestClient(sess session) *Client {
	log := logrus.New()
	log.SetOutput(io.Discard)

	client := NewClient(Config{}, log, metrics.NewNoopMetrics())
	client.connections["srv"] = &ServerConnection{
		session:  sess,
		serverID: "srv",
		tools:    map[string]mcpgo.Tool{"add": {Name: "add"}},
	}
	client.toolDefs["add"] = ToolDefinition{tool: mcpgo.Tool{Name: "add", Description: "Adds two integers"}, serverID: "srv"}
	client.toolOrder = []string{"add"}
	return client
}

func TestCallTool(t *testing.T) {
	sess := &fakeSession{callResults: []*mcpgo.CallToolResult{textResult("4")}}
	client := newTestClient(sess)

	result, err := client.CallTool(context.Background(), "add", map[string]any{"a": 2, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "4\n", result)
	assert.Equal(t, 1, sess.calls)
	assert.Equal(t, map[string]any{"a": 2, "b": 2}, sess.lastArgs)
}

func TestCallToolUnknown(t *testing.T) {
	sess := &fakeSession{}
	client := newTestClient(sess)

	_, err := client.CallTool(context.Background(), "missing", nil)
	require.ErrorIs(t, err, llm.ErrUnknownTool)
	assert.Zero(t, sess.calls, "no transport call should be attempted for an unknown tool")
}

func TestCallToolTimeoutRetriesOnce(t *testing.T) {
	sess := &fakeSession{
		callErrs:    []error{context.DeadlineExceeded, nil},
		callResults: []*mcpgo.CallToolResult{nil, textResult("recovered")},
	}
	client := newTestClient(sess)

	result, err := client.CallTool(context.Background(), "add", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered\n", result)
	assert.Equal(t, 2, sess.calls)
}

func TestCallToolTimeoutTwiceFails(t *testing.T) {
	sess := &fakeSession{
		callErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
	}
	client := newTestClient(sess)

	_, err := client.CallTool(context.Background(), "add", nil)
	require.ErrorIs(t, err, ErrToolCallTimeout)
	assert.Equal(t, 2, sess.calls, "exactly one retry is permitted")
}

func TestClose(t *testing.T) {
	sess := &fakeSession{}
	client := newTestClient(sess)

	require.NoError(t, client.Close())
	assert.True(t, sess.closed)
	assert.Empty(t, client.connections)
	assert.Empty(t, client.Tools())
}

func TestToolsSchemaConversion(t *testing.T) {
	sess := &fakeSession{}
	client := newTestClient(sess)
	toolDef := client.toolDefs["add"]
	toolDef.tool.InputSchema = mcpgo.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"a": map[string]any{"type": "integer"},
			"b": map[string]any{"type": "integer"},
		},
		Required: []string{"a", "b"},
	}
	client.toolDefs["add"] = toolDef

	tools := client.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)
	assert.Equal(t, "Adds two integers", tools[0].Description)
	require.NotNil(t, tools[0].Schema)
	assert.Equal(t, "object", tools[0].Schema.Type)
	assert.Equal(t, []string{"a", "b"}, tools[0].Schema.Required)

	property, present := tools[0].Schema.Properties.Get("a")
	require.True(t, present)
	assert.Equal(t, "integer", property.Type)
}
