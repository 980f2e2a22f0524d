// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace       = "mcpbridge"
	MetricsSubsystemSystem = "system"
	MetricsSubsystemHTTP   = "http"
	MetricsSubsystemLLM    = "llm"
	MetricsSubsystemMCP    = "mcp"
	MetricsVersionLabel    = "version"
	ToolCallStatusSuccess  = "success"
	ToolCallStatusFailure  = "failure"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	IncrementHTTPRequests()
	IncrementHTTPErrors()

	ObserveLLMRequest(llmName string)
	ObserveToolCall(serverID, toolName, status string)
}

type InstanceInfo struct {
	Version string
}

// metrics instruments the bridge with prometheus collectors.
type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge
	info      prometheus.Gauge

	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	llmRequestsTotal *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the bridge started.",
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.info = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "info",
		Help:      "The bridge version.",
		ConstLabels: map[string]string{
			MetricsVersionLabel: info.Version,
		},
	})
	m.info.Set(1)
	m.registry.MustRegister(m.info)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "requests_total",
		Help:      "The total number of http API requests.",
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "errors_total",
		Help:      "The total number of http API errors.",
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.llmRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "requests_total",
		Help:      "The total number of requests sent to the LLM.",
	}, []string{"llm_name"})
	m.registry.MustRegister(m.llmRequestsTotal)

	m.toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemMCP,
		Name:      "tool_calls_total",
		Help:      "The total number of tool calls forwarded to MCP servers.",
	}, []string{"server_id", "tool_name", "status"})
	m.registry.MustRegister(m.toolCallsTotal)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) IncrementHTTPRequests() {
	m.httpRequestsTotal.Inc()
}

func (m *metrics) IncrementHTTPErrors() {
	m.httpErrorsTotal.Inc()
}

func (m *metrics) ObserveLLMRequest(llmName string) {
	m.llmRequestsTotal.With(prometheus.Labels{"llm_name": llmName}).Inc()
}

func (m *metrics) ObserveToolCall(serverID, toolName, status string) {
	m.toolCallsTotal.With(prometheus.Labels{
		"server_id": serverID,
		"tool_name": toolName,
		"status":    status,
	}).Inc()
}
