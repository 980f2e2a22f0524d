// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

const (
	ServiceTypeOpenAI           = "openai"
	ServiceTypeOpenAICompatible = "openaicompatible"
	ServiceTypeAzure            = "azure"
	ServiceTypeAnthropic        = "anthropic"
)

// ServiceConfig describes one upstream LLM service the bridge can talk to.
type ServiceConfig struct {
	Name                    string `json:"name"`
	Type                    string `json:"type"`
	APIKey                  string `json:"apiKey"`
	OrgID                   string `json:"orgId"`
	DefaultModel            string `json:"defaultModel"`
	APIURL                  string `json:"apiURL"`
	InputTokenLimit         int    `json:"inputTokenLimit"`
	OutputTokenLimit        int    `json:"outputTokenLimit"`
	StreamingTimeoutSeconds int    `json:"streamingTimeoutSeconds"`
}
