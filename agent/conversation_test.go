// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbledge/mcpbridge/llm"
)

func TestTurnsOrdering(t *testing.T) {
	conversation := NewConversation()
	conversation.AddSystemPost("system prompt")
	conversation.AddUserPost("question")
	conversation.AddToolRound("", []llm.ToolCall{
		{ID: "a", Name: "first", Result: "one", Status: llm.ToolCallStatusSuccess},
		{ID: "b", Name: "second", Result: "two", Status: llm.ToolCallStatusSuccess},
	})
	conversation.AddBotPost("answer")

	turns := conversation.Turns()
	require.Len(t, turns, 5)

	// System posts are not turns; tool turns directly follow the assistant
	// turn that issued them, in call order.
	assert.Equal(t, TurnRoleUser, turns[0].Role)
	assert.Equal(t, TurnRoleAssistant, turns[1].Role)
	assert.Equal(t, TurnRoleTool, turns[2].Role)
	assert.Equal(t, "one", turns[2].Text)
	assert.Equal(t, TurnRoleTool, turns[3].Role)
	assert.Equal(t, "two", turns[3].Text)
	assert.Equal(t, TurnRoleAssistant, turns[4].Role)
}

func TestPostsIncludeSystem(t *testing.T) {
	conversation := NewConversation()
	conversation.AddSystemPost("system prompt")
	conversation.AddUserPost("question")

	posts := conversation.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, llm.PostRoleSystem, posts[0].Role)
	assert.Equal(t, llm.PostRoleUser, posts[1].Role)
}
