// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package anthropic

import (
	"encoding/json"
	"testing"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbledge/mcpbridge/llm"
)

func TestConversationToMessages(t *testing.T) {
	posts := []llm.Post{
		{Role: llm.PostRoleSystem, Message: "be helpful"},
		{Role: llm.PostRoleUser, Message: "what is 2+2?"},
		{
			Role: llm.PostRoleBot,
			ToolUse: []llm.ToolCall{{
				ID:        "toolu_1",
				Name:      "add",
				Arguments: json.RawMessage(`{"a":2,"b":2}`),
				Result:    "4",
				Status:    llm.ToolCallStatusSuccess,
			}},
		},
		{Role: llm.PostRoleBot, Message: "the answer is 4"},
	}

	system, messages := conversationToMessages(posts)
	assert.Equal(t, "be helpful", system)

	// user question, assistant tool use, user tool result, assistant reply
	require.Len(t, messages, 4)
	assert.Equal(t, anthropicSDK.MessageParamRoleUser, messages[0].Role)
	assert.Equal(t, anthropicSDK.MessageParamRoleAssistant, messages[1].Role)
	assert.Equal(t, anthropicSDK.MessageParamRoleUser, messages[2].Role)
	assert.Equal(t, anthropicSDK.MessageParamRoleAssistant, messages[3].Role)

	// The tool use block carries the call through to the API
	require.Len(t, messages[1].Content, 1)
	require.NotNil(t, messages[1].Content[0].OfToolUse)
	assert.Equal(t, "toolu_1", messages[1].Content[0].OfToolUse.ID)
	assert.Equal(t, "add", messages[1].Content[0].OfToolUse.Name)

	require.Len(t, messages[2].Content, 1)
	require.NotNil(t, messages[2].Content[0].OfToolResult)
	assert.Equal(t, "toolu_1", messages[2].Content[0].OfToolResult.ToolUseID)
}

func TestConvertTools(t *testing.T) {
	tools := []llm.Tool{
		{Name: "add", Description: "Adds two integers"},
	}

	converted := convertTools(tools)
	require.Len(t, converted, 1)
	require.NotNil(t, converted[0].OfTool)
	assert.Equal(t, "add", converted[0].OfTool.Name)
}
