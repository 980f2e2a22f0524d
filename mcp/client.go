// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/invopop/jsonschema"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/metrics"
)

const DefaultToolCallTimeout = 30 * time.Second

var (
	// ErrNoConnections is returned when no configured server could be reached.
	ErrNoConnections = errors.New("no MCP servers were successfully connected")
	// ErrToolCallTimeout is returned when a tool call timed out and the single
	// permitted retry timed out as well.
	ErrToolCallTimeout = errors.New("tool call timed out")
)

// ServerConfig contains the configuration for a single MCP server. BaseURL
// selects the SSE transport; Command selects stdio. BearerToken, when set, is
// passed through verbatim as an Authorization header.
type ServerConfig struct {
	BaseURL     string            `json:"baseURL,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         []string          `json:"env,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	BearerToken string            `json:"bearerToken,omitempty"`
}

// Config contains the configuration for the MCP client
type Config struct {
	Servers                map[string]ServerConfig `json:"servers"`
	ToolCallTimeoutSeconds int                     `json:"toolCallTimeoutSeconds"`
}

// session is the subset of the mcp-go client the bridge relies on.
type session interface {
	Initialize(ctx context.Context, request mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, request mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// ServerConnection represents the connection to a single MCP server
type ServerConnection struct {
	session  session
	serverID string
	tools    map[string]mcpgo.Tool
}

// ToolDefinition represents a tool provided by an MCP server
type ToolDefinition struct {
	tool     mcpgo.Tool
	serverID string
}

// Client holds connections to all configured MCP servers and the tools they
// advertise. It is a transparent forwarder: tool arguments pass through
// structurally untouched in both directions.
type Client struct {
	config      Config
	connections map[string]*ServerConnection
	toolDefs    map[string]ToolDefinition
	toolOrder   []string
	log         logrus.FieldLogger
	metrics     metrics.Metrics
}

// NewClient creates an unconnected client. Call Connect before use.
func NewClient(config Config, log logrus.FieldLogger, metricsService metrics.Metrics) *Client {
	return &Client{
		config:      config,
		connections: make(map[string]*ServerConnection),
		toolDefs:    make(map[string]ToolDefinition),
		log:         log,
		metrics:     metricsService,
	}
}

// Connect establishes sessions to all configured servers and discovers their
// tools. Servers that fail to connect are skipped with a log entry; if none
// connect, Connect fails with ErrNoConnections.
func (c *Client) Connect(ctx context.Context) error {
	for serverID, serverConfig := range c.config.Servers {
		if serverConfig.BaseURL == "" && serverConfig.Command == "" {
			c.log.WithField("serverID", serverID).Warn("Skipping MCP server with no transport configured")
			continue
		}

		if err := c.connectToServer(ctx, serverID, serverConfig); err != nil {
			c.log.WithFields(logrus.Fields{"serverID": serverID, "error": err}).Error("Failed to connect to MCP server")
			continue
		}
	}

	if len(c.connections) == 0 {
		return ErrNoConnections
	}

	return nil
}

func (c *Client) newSession(ctx context.Context, serverConfig ServerConfig) (session, error) {
	if serverConfig.Command != "" {
		stdioClient, err := mcpclient.NewStdioMCPClient(serverConfig.Command, serverConfig.Env, serverConfig.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdio MCP client: %w", err)
		}
		return stdioClient, nil
	}

	headers := make(map[string]string)
	maps.Copy(headers, serverConfig.Headers)
	if serverConfig.BearerToken != "" {
		headers["Authorization"] = "Bearer " + serverConfig.BearerToken
	}

	sseClient, err := mcpclient.NewSSEMCPClient(serverConfig.BaseURL, mcpclient.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE MCP client: %w", err)
	}
	if err := sseClient.Start(ctx); err != nil {
		sseClient.Close()
		return nil, fmt.Errorf("failed to start SSE MCP client: %w", err)
	}
	return sseClient, nil
}

// connectToServer establishes a connection to a single server and registers its tools
func (c *Client) connectToServer(ctx context.Context, serverID string, serverConfig ServerConfig) error {
	sess, err := c.newSession(ctx, serverConfig)
	if err != nil {
		return err
	}

	// Release the session on any error path below
	success := false
	defer func() {
		if !success {
			sess.Close()
		}
	}()

	initResult, err := sess.Initialize(ctx, mcpgo.InitializeRequest{})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"serverID":   serverID,
		"serverInfo": initResult.ServerInfo,
	}).Debug("MCP client initialized successfully")

	connection := &ServerConnection{
		session:  sess,
		serverID: serverID,
		tools:    make(map[string]mcpgo.Tool),
	}
	c.connections[serverID] = connection

	result, err := sess.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		delete(c.connections, serverID)
		return fmt.Errorf("failed to list tools: %w", err)
	}

	for _, tool := range result.Tools {
		connection.tools[tool.Name] = tool

		// Tool name conflicts across servers: last server wins
		if existingTool, exists := c.toolDefs[tool.Name]; exists {
			c.log.WithFields(logrus.Fields{
				"tool":    tool.Name,
				"server1": existingTool.serverID,
				"server2": serverID,
			}).Warn("Tool name conflict detected")
		} else {
			c.toolOrder = append(c.toolOrder, tool.Name)
		}

		c.toolDefs[tool.Name] = ToolDefinition{
			tool:     tool,
			serverID: serverID,
		}

		c.log.WithFields(logrus.Fields{
			"name":        tool.Name,
			"description": tool.Description,
			"server":      serverID,
		}).Debug("Registered MCP tool")
	}

	success = true
	return nil
}

// Close closes all server connections. Safe to call on any exit path.
func (c *Client) Close() error {
	var lastErr error

	for serverID, connection := range c.connections {
		if err := connection.session.Close(); err != nil {
			c.log.WithFields(logrus.Fields{"serverID": serverID, "error": err}).Error("Failed to close MCP client")
			lastErr = err
		}
	}

	c.connections = make(map[string]*ServerConnection)
	c.toolDefs = make(map[string]ToolDefinition)
	c.toolOrder = nil

	return lastErr
}

func (c *Client) toolCallTimeout() time.Duration {
	if c.config.ToolCallTimeoutSeconds > 0 {
		return time.Duration(c.config.ToolCallTimeoutSeconds) * time.Second
	}
	return DefaultToolCallTimeout
}

// CallTool forwards a tool invocation to the server that advertised the tool
// and blocks until a response or timeout. A call that times out is retried
// exactly once; a second timeout fails with ErrToolCallTimeout.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	toolInfo, exists := c.toolDefs[toolName]
	if !exists {
		return "", fmt.Errorf("%w: %s", llm.ErrUnknownTool, toolName)
	}

	connection, exists := c.connections[toolInfo.serverID]
	if !exists {
		return "", fmt.Errorf("server %s for tool %s not found", toolInfo.serverID, toolName)
	}

	result, err := c.callToolOnce(ctx, connection, toolName, args)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		c.log.WithFields(logrus.Fields{"tool": toolName, "serverID": toolInfo.serverID}).Warn("Tool call timed out, retrying once")
		result, err = c.callToolOnce(ctx, connection, toolName, args)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			c.observeToolCall(toolInfo.serverID, toolName, metrics.ToolCallStatusFailure)
			return "", fmt.Errorf("%w: tool %s on server %s", ErrToolCallTimeout, toolName, toolInfo.serverID)
		}
	}
	if err != nil {
		c.observeToolCall(toolInfo.serverID, toolName, metrics.ToolCallStatusFailure)
		return "", fmt.Errorf("failed to call tool %s on server %s: %w", toolName, toolInfo.serverID, err)
	}

	c.observeToolCall(toolInfo.serverID, toolName, metrics.ToolCallStatusSuccess)
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, connection *ServerConnection, toolName string, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.toolCallTimeout())
	defer cancel()

	callRequest := mcpgo.CallToolRequest{}
	callRequest.Params.Name = toolName
	callRequest.Params.Arguments = args

	result, err := connection.session.CallTool(callCtx, callRequest)
	if err != nil {
		return "", err
	}

	if len(result.Content) == 0 {
		return "", fmt.Errorf("no content found in response from tool %s on server %s", toolName, connection.serverID)
	}

	text := ""
	for _, content := range result.Content {
		if textContent, ok := mcpgo.AsTextContent(content); ok {
			text += textContent.Text + "\n"
		}
	}
	return text, nil
}

func (c *Client) observeToolCall(serverID, toolName, status string) {
	if c.metrics != nil {
		c.metrics.ObserveToolCall(serverID, toolName, status)
	}
}

// ConvertPropertiesToOrderedMap converts a map of properties to an OrderedMap using JSON marshaling
func ConvertPropertiesToOrderedMap(source map[string]any) (*orderedmap.OrderedMap[string, *jsonschema.Schema], error) {
	var target orderedmap.OrderedMap[string, *jsonschema.Schema]
	jsonData, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(jsonData, &target)
	return &target, err
}

// Tools returns the discovered tools as registry entries whose resolvers
// forward invocations back through this client.
func (c *Client) Tools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(c.toolOrder))
	for _, name := range c.toolOrder {
		toolInfo := c.toolDefs[name]
		properties, err := ConvertPropertiesToOrderedMap(toolInfo.tool.InputSchema.Properties)
		if err != nil {
			c.log.WithFields(logrus.Fields{"tool": name, "error": err}).Error("Failed to convert tool input schema properties")
			continue
		}
		schema := &jsonschema.Schema{
			Type:       toolInfo.tool.InputSchema.Type,
			Properties: properties,
			Required:   toolInfo.tool.InputSchema.Required,
		}
		tools = append(tools, llm.Tool{
			Name:        name,
			Description: toolInfo.tool.Description,
			Schema:      schema,
			Resolver:    c.createToolResolver(name),
		})
	}

	return tools
}

// createToolResolver creates a resolver function for the given tool
func (c *Client) createToolResolver(toolName string) func(llmContext *llm.Context, argsGetter llm.ToolArgumentGetter) (string, error) {
	return func(llmContext *llm.Context, argsGetter llm.ToolArgumentGetter) (string, error) {
		if len(c.connections) == 0 {
			return "", ErrNoConnections
		}

		var rawArgs json.RawMessage
		if err := argsGetter(&rawArgs); err != nil {
			return "", fmt.Errorf("failed to get arguments for tool %s: %w", toolName, err)
		}

		var args map[string]any
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("failed to parse arguments for tool %s: %w", toolName, err)
		}

		return c.CallTool(llmContext.Ctx(), toolName, args)
	}
}
