// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NoopMetrics is a no-operation implementation of the Metrics interface for testing.
type NoopMetrics struct {
}

// NewNoopMetrics creates a new instance of NoopMetrics.
func NewNoopMetrics() Metrics {
	return &NoopMetrics{}
}

// GetRegistry returns a new empty registry.
func (m *NoopMetrics) GetRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func (m *NoopMetrics) IncrementHTTPRequests() {
}

func (m *NoopMetrics) IncrementHTTPErrors() {
}

func (m *NoopMetrics) ObserveLLMRequest(llmName string) {
}

func (m *NoopMetrics) ObserveToolCall(serverID, toolName, status string) {
}
