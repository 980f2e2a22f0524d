// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package llm defines the provider-agnostic core of the bridge: conversation
// posts with roles, the tool registry advertised to the model, streaming
// completion results, and the LanguageModel interface implemented by the
// openai and anthropic packages.
package llm

type LanguageModel interface {
	ChatCompletion(request CompletionRequest, opts ...LanguageModelOption) (*TextStreamResult, error)
	ChatCompletionNoStream(request CompletionRequest, opts ...LanguageModelOption) (string, error)

	CountTokens(text string) int
	InputTokenLimit() int
}

type LanguageModelConfig struct {
	Model              string
	MaxGeneratedTokens int
	JSONOutputFormat   any
}

type LanguageModelOption func(*LanguageModelConfig)

func WithModel(model string) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.Model = model
	}
}

func WithMaxGeneratedTokens(maxGeneratedTokens int) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.MaxGeneratedTokens = maxGeneratedTokens
	}
}

func WithJSONOutput(format any) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.JSONOutputFormat = format
	}
}

type LanguageModelWrapper func(LanguageModel) LanguageModel
