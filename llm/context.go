// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Context carries the data used to build the LLM's view of a session.
// Consumers must not assume any field is present.
type Context struct {
	Time      string
	SessionID string

	CustomInstructions string

	Tools      *ToolStore
	Parameters map[string]any

	// ctx carries cancellation for the request this Context belongs to. Tool
	// resolvers use it so canceling a run tears down in-flight invocations.
	ctx context.Context
}

// Ctx returns the cancellation context for this request.
func (c *Context) Ctx() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// ContextOption defines a function that configures a Context
type ContextOption func(*Context)

// NewContext creates a new Context with the given options
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		Time: time.Now().UTC().Format(time.RFC1123),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func WithCancellation(ctx context.Context) ContextOption {
	return func(c *Context) {
		c.ctx = ctx
	}
}

func WithSessionID(id string) ContextOption {
	return func(c *Context) {
		c.SessionID = id
	}
}

func WithCustomInstructions(instructions string) ContextOption {
	return func(c *Context) {
		c.CustomInstructions = instructions
	}
}

func WithTools(tools *ToolStore) ContextOption {
	return func(c *Context) {
		c.Tools = tools
	}
}

func (c Context) String() string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Time: %v\nSessionID: %v", c.Time, c.SessionID))

	result.WriteString("\n--- Parameters ---\n")
	for key := range c.Parameters {
		result.WriteString(fmt.Sprintf(" %v", key))
	}

	if c.Tools != nil {
		result.WriteString("\n--- Tools ---\n")
		for _, tool := range c.Tools.GetTools() {
			result.WriteString(tool.Name)
			result.WriteString(" ")
		}
	}

	return result.String()
}
