// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package agent

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbledge/mcpbridge/anthropic"
	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/metrics"
	"github.com/nimbledge/mcpbridge/openai"
)

func openaiConfigFromLLMService(llmService llm.ServiceConfig) openai.Config {
	var streamingTimeout time.Duration
	if llmService.StreamingTimeoutSeconds > 0 {
		streamingTimeout = time.Duration(llmService.StreamingTimeoutSeconds) * time.Second
	}

	return openai.Config{
		Name:             llmService.Name,
		APIKey:           llmService.APIKey,
		APIURL:           llmService.APIURL,
		OrgID:            llmService.OrgID,
		DefaultModel:     llmService.DefaultModel,
		InputTokenLimit:  llmService.InputTokenLimit,
		OutputTokenLimit: llmService.OutputTokenLimit,
		StreamingTimeout: streamingTimeout,
	}
}

// logAdapter exposes a logrus logger through the llm.TraceLog interface.
type logAdapter struct {
	log logrus.FieldLogger
}

func (a logAdapter) Info(message string, keyValuePairs ...any) {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keyValuePairs); i += 2 {
		if key, ok := keyValuePairs[i].(string); ok {
			fields[key] = keyValuePairs[i+1]
		}
	}
	a.log.WithFields(fields).Info(message)
}

// NewTraceLog adapts a logrus logger for tool stores and LLM trace wrappers.
func NewTraceLog(log logrus.FieldLogger) llm.TraceLog {
	return logAdapter{log: log}
}

// GetLLM builds the language model for a service configuration, wrapped with
// tracing (when enabled) and input truncation.
func GetLLM(llmService llm.ServiceConfig, httpClient *http.Client, metricsService metrics.Metrics, log logrus.FieldLogger, enableTrace bool) (llm.LanguageModel, error) {
	var result llm.LanguageModel
	switch llmService.Type {
	case llm.ServiceTypeOpenAI:
		result = openai.New(openaiConfigFromLLMService(llmService), httpClient, metricsService)
	case llm.ServiceTypeOpenAICompatible:
		result = openai.NewCompatible(openaiConfigFromLLMService(llmService), httpClient, metricsService)
	case llm.ServiceTypeAzure:
		result = openai.NewAzure(openaiConfigFromLLMService(llmService), httpClient, metricsService)
	case llm.ServiceTypeAnthropic:
		result = anthropic.New(llmService, httpClient, metricsService)
	default:
		return nil, fmt.Errorf("unsupported service type %q", llmService.Type)
	}

	if enableTrace {
		result = llm.NewLanguageModelLogWrapper(NewTraceLog(log), result)
	}

	return llm.NewTruncationWrapper(result), nil
}
