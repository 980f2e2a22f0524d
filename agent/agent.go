// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/mcp"
)

const DefaultMaxToolDepth = 5

// ErrToolLoopLimit is returned when the model keeps issuing tool-call
// directives past the configured depth for a single turn.
var ErrToolLoopLimit = errors.New("tool call loop limit exceeded")

// Config holds the per-agent settings.
type Config struct {
	// MaxToolDepth bounds consecutive tool rounds within one turn. Zero means
	// DefaultMaxToolDepth.
	MaxToolDepth int
	// SystemPrompt seeds new conversations. Empty means no system post.
	SystemPrompt string
	// OutputTags, when it holds exactly two entries, trims the final reply to
	// the content between the first occurrence of the pair.
	OutputTags []string
}

// Agent couples a language model with a tool store. It is the only component
// that mutates conversation state.
type Agent struct {
	model  llm.LanguageModel
	tools  *llm.ToolStore
	log    logrus.FieldLogger
	config Config
}

func New(model llm.LanguageModel, tools *llm.ToolStore, log logrus.FieldLogger, config Config) *Agent {
	if config.MaxToolDepth <= 0 {
		config.MaxToolDepth = DefaultMaxToolDepth
	}
	return &Agent{
		model:  model,
		tools:  tools,
		log:    log,
		config: config,
	}
}

// NewSeededConversation returns an empty conversation carrying the configured
// system prompt, for callers driving multiple turns themselves.
func (a *Agent) NewSeededConversation() *Conversation {
	conversation := NewConversation()
	if a.config.SystemPrompt != "" {
		conversation.AddSystemPost(a.config.SystemPrompt)
	}
	return conversation
}

// Run seeds a fresh conversation with the system prompt and the initial user
// prompt, then steps until the model produces a plain reply.
func (a *Agent) Run(ctx context.Context, initialPrompt string) (string, error) {
	conversation := a.NewSeededConversation()
	conversation.AddUserPost(initialPrompt)

	return a.Step(ctx, conversation)
}

// Continue appends a follow-up user prompt to an existing conversation and
// steps again. Used by the interactive loop.
func (a *Agent) Continue(ctx context.Context, conversation *Conversation, prompt string) (string, error) {
	conversation.AddUserPost(prompt)
	return a.Step(ctx, conversation)
}

// Step sends the conversation plus tool advertisements to the model and
// drives tool resolution until a plain text reply is produced. Tool failures
// are folded into the conversation as failed tool results so the model can
// react to them; a transport timeout that survived its retry is terminal.
func (a *Agent) Step(ctx context.Context, conversation *Conversation) (string, error) {
	llmContext := llm.NewContext(
		llm.WithCancellation(ctx),
		llm.WithTools(a.tools),
	)

	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, toolCalls, err := a.completeOnce(conversation, llmContext)
		if err != nil {
			return "", err
		}

		if len(toolCalls) == 0 {
			reply := a.extractOutput(text)
			conversation.AddBotPost(reply)
			return reply, nil
		}

		if depth >= a.config.MaxToolDepth {
			a.log.WithField("depth", depth).Warn("Tool call loop limit reached")
			return "", fmt.Errorf("%w: depth %d", ErrToolLoopLimit, depth)
		}

		resolved, err := a.resolveToolCalls(llmContext, toolCalls)
		if err != nil {
			return "", err
		}
		conversation.AddToolRound(text, resolved)
	}
}

// completeOnce performs a single model call and collects its outcome.
func (a *Agent) completeOnce(conversation *Conversation, llmContext *llm.Context) (string, []llm.ToolCall, error) {
	result, err := a.model.ChatCompletion(llm.CompletionRequest{
		Posts:   conversation.Posts(),
		Context: llmContext,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to get chat completion: %w", err)
	}

	var text string
	for event := range result.Stream {
		switch event.Type {
		case llm.EventTypeText:
			if chunk, ok := event.Value.(string); ok {
				text += chunk
			}
		case llm.EventTypeError:
			if streamErr, ok := event.Value.(error); ok {
				return "", nil, streamErr
			}
			return "", nil, errors.New("unknown error from model stream")
		case llm.EventTypeToolCalls:
			if calls, ok := event.Value.([]llm.ToolCall); ok {
				return text, calls, nil
			}
			return "", nil, errors.New("malformed tool calls from model stream")
		case llm.EventTypeEnd:
			return text, nil, nil
		}
	}

	return text, nil, nil
}

// resolveToolCalls runs every directive through the registry. Unknown tools
// and resolver failures become failed results visible to the model; a
// transport timeout that already consumed its retry is surfaced instead.
func (a *Agent) resolveToolCalls(llmContext *llm.Context, toolCalls []llm.ToolCall) ([]llm.ToolCall, error) {
	for i := range toolCalls {
		call := &toolCalls[i]
		result, err := a.tools.ResolveTool(call.Name, func(args any) error {
			return json.Unmarshal(call.Arguments, args)
		}, llmContext)

		switch {
		case err == nil:
			call.Result = result
			call.Status = llm.ToolCallStatusSuccess
		case errors.Is(err, mcp.ErrToolCallTimeout):
			return nil, err
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			a.log.WithFields(logrus.Fields{"tool": call.Name, "error": err}).Warn("Tool call failed")
			call.Result = fmt.Sprintf("Tool call failed: %v", err)
			call.Status = llm.ToolCallStatusError
		}
	}

	return toolCalls, nil
}

func (a *Agent) extractOutput(text string) string {
	if len(a.config.OutputTags) != 2 {
		return text
	}
	pattern := fmt.Sprintf("(?s).*%s(.*?)%s", regexp.QuoteMeta(a.config.OutputTags[0]), regexp.QuoteMeta(a.config.OutputTags[1]))
	re, err := regexp.Compile(pattern)
	if err != nil {
		return text
	}
	if match := re.FindStringSubmatch(text); match != nil {
		return match[1]
	}
	return text
}
