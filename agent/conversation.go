// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package agent drives a conversation between a language model and the tools
// reachable through MCP. The agent owns the conversation state for one run,
// resolves the model's tool-call directives against the registry, folds tool
// results back into the conversation, and stops once the model produces a
// plain text reply or the tool loop limit is hit.
package agent

import (
	"github.com/nimbledge/mcpbridge/llm"
)

// TurnRole tags one turn of conversation state.
type TurnRole int

const (
	TurnRoleUser TurnRole = iota
	TurnRoleAssistant
	TurnRoleTool
)

// Turn is a flattened, role-tagged view of one unit of conversation state.
type Turn struct {
	Role TurnRole
	Text string
}

// Conversation is the append-only state of one run. Tool results are recorded
// on the bot post that issued the calls, so a tool turn can never appear
// anywhere but directly after its assistant turn. Only the agent mutates a
// Conversation; it is discarded when the run ends.
type Conversation struct {
	posts []llm.Post
}

func NewConversation() *Conversation {
	return &Conversation{}
}

func (c *Conversation) AddSystemPost(message string) {
	c.posts = append(c.posts, llm.Post{Role: llm.PostRoleSystem, Message: message})
}

func (c *Conversation) AddUserPost(message string) {
	c.posts = append(c.posts, llm.Post{Role: llm.PostRoleUser, Message: message})
}

func (c *Conversation) AddBotPost(message string) {
	c.posts = append(c.posts, llm.Post{Role: llm.PostRoleBot, Message: message})
}

// AddToolRound appends a bot post carrying resolved tool calls.
func (c *Conversation) AddToolRound(message string, toolUse []llm.ToolCall) {
	c.posts = append(c.posts, llm.Post{Role: llm.PostRoleBot, Message: message, ToolUse: toolUse})
}

// Posts returns the conversation in completion-request form.
func (c *Conversation) Posts() []llm.Post {
	return c.posts
}

// Turns flattens the conversation into role-tagged turns: one user or
// assistant turn per post, plus one tool turn per resolved tool call, in
// order. System posts are configuration, not turns.
func (c *Conversation) Turns() []Turn {
	turns := make([]Turn, 0, len(c.posts))
	for _, post := range c.posts {
		switch post.Role {
		case llm.PostRoleSystem:
			continue
		case llm.PostRoleUser:
			turns = append(turns, Turn{Role: TurnRoleUser, Text: post.Message})
		case llm.PostRoleBot:
			turns = append(turns, Turn{Role: TurnRoleAssistant, Text: post.Message})
			for _, tool := range post.ToolUse {
				turns = append(turns, Turn{Role: TurnRoleTool, Text: tool.Result})
			}
		}
	}
	return turns
}
