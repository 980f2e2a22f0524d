// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"fmt"
	"slices"
	"strings"
)

type PostRole int

const (
	PostRoleUser PostRole = iota
	PostRoleBot
	PostRoleSystem
)

// Post is one role-tagged unit of conversation state. Tool calls issued by
// the model, together with their results, hang off the bot post that issued
// them so a tool result always follows the post it answers.
type Post struct {
	Role    PostRole
	Message string
	ToolUse []ToolCall
}

type CompletionRequest struct {
	Posts   []Post
	Context *Context
}

// Truncate drops or trims posts from the front of the conversation until the
// request fits within maxTokens. Returns true if anything was cut.
func (r *CompletionRequest) Truncate(maxTokens int, countTokens func(string) int) bool {
	oldPosts := r.Posts
	r.Posts = make([]Post, 0, len(oldPosts))
	var totalTokens int
	for i := len(oldPosts) - 1; i >= 0; i-- {
		post := oldPosts[i]
		if totalTokens >= maxTokens {
			slices.Reverse(r.Posts)
			return true
		}
		postTokens := countTokens(post.Message)
		if (totalTokens + postTokens) > maxTokens {
			charactersToCut := (postTokens - (maxTokens - totalTokens)) * 4
			post.Message = strings.TrimSpace(post.Message[charactersToCut:])
			r.Posts = append(r.Posts, post)
			slices.Reverse(r.Posts)
			return true
		}
		totalTokens += postTokens
		r.Posts = append(r.Posts, post)
	}

	slices.Reverse(r.Posts)
	return false
}

// ExtractSystemMessage extracts the system message from the conversation.
func (r CompletionRequest) ExtractSystemMessage() string {
	for _, post := range r.Posts {
		if post.Role == PostRoleSystem {
			return post.Message
		}
	}
	return ""
}

func (r CompletionRequest) String() string {
	var result strings.Builder
	result.WriteString("--- Conversation ---")
	for _, post := range r.Posts {
		switch post.Role {
		case PostRoleUser:
			result.WriteString("\n--- User ---\n")
		case PostRoleBot:
			result.WriteString("\n--- Bot ---\n")
		case PostRoleSystem:
			result.WriteString("\n--- System ---\n")
		default:
			result.WriteString("\n--- <Unknown> ---\n")
		}
		result.WriteString(post.Message)
		for _, tool := range post.ToolUse {
			result.WriteString(fmt.Sprintf("\n[tool call %s(%s) -> %s]", tool.Name, string(tool.Arguments), tool.Result))
		}
	}
	result.WriteString("\n--- Context ---\n")
	result.WriteString(fmt.Sprintf("%+v\n", r.Context))

	return result.String()
}
