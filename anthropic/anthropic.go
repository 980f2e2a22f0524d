// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package anthropic implements llm.LanguageModel on top of the Anthropic
// messages API.
package anthropic

import (
	"context"
	"net/http"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/metrics"
)

const (
	DefaultMaxTokens = 8192
)

type Anthropic struct {
	client           anthropicSDK.Client
	name             string
	defaultModel     string
	inputTokenLimit  int
	outputTokenLimit int
	metricsService   metrics.Metrics
}

func New(llmService llm.ServiceConfig, httpClient *http.Client, metricsService metrics.Metrics) *Anthropic {
	client := anthropicSDK.NewClient(
		option.WithAPIKey(llmService.APIKey),
		option.WithHTTPClient(httpClient),
	)

	return &Anthropic{
		client:           client,
		name:             llmService.Name,
		defaultModel:     llmService.DefaultModel,
		inputTokenLimit:  llmService.InputTokenLimit,
		outputTokenLimit: llmService.OutputTokenLimit,
		metricsService:   metricsService,
	}
}

// conversationToMessages creates a system prompt and a slice of input messages from conversation posts.
func conversationToMessages(posts []llm.Post) (string, []anthropicSDK.MessageParam) {
	systemMessage := ""
	messages := make([]anthropicSDK.MessageParam, 0, len(posts))

	var currentBlocks []anthropicSDK.ContentBlockParamUnion
	var currentRole anthropicSDK.MessageParamRole

	flushCurrentMessage := func() {
		if len(currentBlocks) > 0 {
			messages = append(messages, anthropicSDK.MessageParam{
				Role:    currentRole,
				Content: currentBlocks,
			})
			currentBlocks = nil
		}
	}

	for _, post := range posts {
		switch post.Role {
		case llm.PostRoleSystem:
			systemMessage += post.Message
			continue
		case llm.PostRoleBot:
			if currentRole != anthropicSDK.MessageParamRoleAssistant {
				flushCurrentMessage()
				currentRole = anthropicSDK.MessageParamRoleAssistant
			}
		case llm.PostRoleUser:
			if currentRole != anthropicSDK.MessageParamRoleUser {
				flushCurrentMessage()
				currentRole = anthropicSDK.MessageParamRoleUser
			}
		default:
			continue
		}

		if post.Message != "" {
			currentBlocks = append(currentBlocks, anthropicSDK.NewTextBlock(post.Message))
		}

		if len(post.ToolUse) > 0 {
			for _, tool := range post.ToolUse {
				toolBlock := anthropicSDK.NewToolUseBlock(
					tool.ID,
					tool.Arguments,
					tool.Name,
				)
				currentBlocks = append(currentBlocks, toolBlock)
			}

			// Tool results go in a user message directly after the tool use
			resultBlocks := make([]anthropicSDK.ContentBlockParamUnion, 0, len(post.ToolUse))
			for _, tool := range post.ToolUse {
				isError := tool.Status != llm.ToolCallStatusSuccess
				resultBlocks = append(resultBlocks, anthropicSDK.NewToolResultBlock(tool.ID, tool.Result, isError))
			}

			flushCurrentMessage()
			currentRole = anthropicSDK.MessageParamRoleUser
			currentBlocks = resultBlocks
			flushCurrentMessage()
		}
	}

	flushCurrentMessage()
	return systemMessage, messages
}

// convertTools converts from llm.Tool to anthropicSDK.ToolUnionParam format
func convertTools(tools []llm.Tool) []anthropicSDK.ToolUnionParam {
	converted := make([]anthropicSDK.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var schema anthropicSDK.ToolInputSchemaParam
		if tool.Schema != nil {
			schema = anthropicSDK.ToolInputSchemaParam{Properties: tool.Schema.Properties}
		}
		converted[i] = anthropicSDK.ToolUnionParam{
			OfTool: &anthropicSDK.ToolParam{
				Name:        tool.Name,
				Description: anthropicSDK.String(tool.Description),
				InputSchema: schema,
			},
		}
	}
	return converted
}

func (a *Anthropic) GetDefaultConfig() llm.LanguageModelConfig {
	config := llm.LanguageModelConfig{
		Model: a.defaultModel,
	}
	if a.outputTokenLimit == 0 {
		config.MaxGeneratedTokens = DefaultMaxTokens
	} else {
		config.MaxGeneratedTokens = a.outputTokenLimit
	}
	return config
}

func (a *Anthropic) createConfig(opts []llm.LanguageModelOption) llm.LanguageModelConfig {
	cfg := a.GetDefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (a *Anthropic) streamChat(cfg llm.LanguageModelConfig, system string, messages []anthropicSDK.MessageParam, tools []llm.Tool, output chan<- llm.TextStreamEvent) {
	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxGeneratedTokens),
		Messages:  messages,
		System: []anthropicSDK.TextBlockParam{{
			Text: system,
		}},
		Tools: convertTools(tools),
	}
	stream := a.client.Messages.NewStreaming(context.Background(), params)

	message := anthropicSDK.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			output <- llm.TextStreamEvent{
				Type:  llm.EventTypeError,
				Value: errors.Wrap(err, "error accumulating message"),
			}
			return
		}

		// Stream text content immediately
		switch eventVariant := event.AsAny().(type) {
		case anthropicSDK.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropicSDK.TextDelta:
				output <- llm.TextStreamEvent{
					Type:  llm.EventTypeText,
					Value: deltaVariant.Text,
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		output <- llm.TextStreamEvent{
			Type:  llm.EventTypeError,
			Value: errors.Wrap(err, "failed to stream from anthropic"),
		}
		return
	}

	// Check for tool usage in the message
	pendingToolCalls := make([]llm.ToolCall, 0, len(message.Content))
	for _, block := range message.Content {
		if block.Type == "tool_use" {
			pendingToolCalls = append(pendingToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
				Status:    llm.ToolCallStatusPending,
			})
		}
	}

	if len(pendingToolCalls) > 0 {
		output <- llm.TextStreamEvent{
			Type:  llm.EventTypeToolCalls,
			Value: pendingToolCalls,
		}
		return
	}

	output <- llm.TextStreamEvent{
		Type: llm.EventTypeEnd,
	}
}

func (a *Anthropic) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	if a.metricsService != nil {
		a.metricsService.ObserveLLMRequest(a.name)
	}

	cfg := a.createConfig(opts)
	system, messages := conversationToMessages(request.Posts)

	var tools []llm.Tool
	if request.Context != nil && request.Context.Tools != nil {
		tools = request.Context.Tools.GetTools()
	}

	eventStream := make(chan llm.TextStreamEvent)
	go func() {
		defer close(eventStream)
		a.streamChat(cfg, system, messages, tools, eventStream)
	}()

	return &llm.TextStreamResult{Stream: eventStream}, nil
}

func (a *Anthropic) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	// This could perform better if we didn't use the streaming API here, but the complexity is not worth it.
	result, err := a.ChatCompletion(request, opts...)
	if err != nil {
		return "", err
	}
	return result.ReadAll()
}

func (a *Anthropic) CountTokens(text string) int {
	// No public tokenizer, approximate by characters.
	return len(text) / 4
}

func (a *Anthropic) InputTokenLimit() int {
	if a.inputTokenLimit > 0 {
		return a.inputTokenLimit
	}
	return 100000
}
