// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"math"
)

const FunctionsTokenBudget = 200
const TokenLimitBufferSize = 0.9
const MinTokens = 100

// TruncationWrapper trims the conversation to the wrapped model's input token
// limit before forwarding the request.
type TruncationWrapper struct {
	wrapped LanguageModel
}

func NewTruncationWrapper(model LanguageModel) *TruncationWrapper {
	return &TruncationWrapper{
		wrapped: model,
	}
}

func (w *TruncationWrapper) tokenLimit() int {
	return int(math.Max(math.Floor(float64(w.wrapped.InputTokenLimit()-FunctionsTokenBudget)*TokenLimitBufferSize), MinTokens))
}

func (w *TruncationWrapper) ChatCompletion(request CompletionRequest, opts ...LanguageModelOption) (*TextStreamResult, error) {
	request.Truncate(w.tokenLimit(), w.wrapped.CountTokens)
	return w.wrapped.ChatCompletion(request, opts...)
}

func (w *TruncationWrapper) ChatCompletionNoStream(request CompletionRequest, opts ...LanguageModelOption) (string, error) {
	request.Truncate(w.tokenLimit(), w.wrapped.CountTokens)
	return w.wrapped.ChatCompletionNoStream(request, opts...)
}

func (w *TruncationWrapper) CountTokens(text string) int {
	return w.wrapped.CountTokens(text)
}

func (w *TruncationWrapper) InputTokenLimit() int {
	return w.wrapped.InputTokenLimit()
}
