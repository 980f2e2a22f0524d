// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

var (
	// ErrUnknownTool is returned when a tool name is not present in the store.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned when registering a name that already exists.
	ErrDuplicateTool = errors.New("duplicate tool")
)

type ToolCallStatus int

const (
	// ToolCallStatusPending means the tool call has not been resolved yet.
	ToolCallStatusPending ToolCallStatus = iota
	ToolCallStatusSuccess
	ToolCallStatusError
)

// ToolCall represents a function-calling directive emitted by the model and,
// once resolved, the result that was fed back into the conversation.
type ToolCall struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Arguments   json.RawMessage `json:"arguments"`
	Result      string          `json:"result"`
	Status      ToolCallStatus  `json:"status"`
}

// Tool is a named capability that can be called by the language model during
// a conversation.
//
// Name, description, and schema are advertised to the LLM so it understands
// what it can call. The Resolver implements the actual invocation: it receives
// the conversation context and a getter for the parsed arguments, and returns
// either a result string passed back to the LLM or an error.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Resolver    func(context *Context, argsGetter ToolArgumentGetter) (string, error)
}

type ToolArgumentGetter func(args any) error

type TraceLog interface {
	Info(message string, keyValuePairs ...any)
}

// ToolStore holds the tools available to one session, keyed by name and kept
// in registration order. It is immutable once registration is finished and
// may then be shared between sessions.
type ToolStore struct {
	tools   map[string]Tool
	order   []string
	log     TraceLog
	doTrace bool
}

func NewNoTools() *ToolStore {
	return NewToolStore(nil, false)
}

func NewToolStore(log TraceLog, doTrace bool) *ToolStore {
	return &ToolStore{
		tools:   make(map[string]Tool),
		log:     log,
		doTrace: doTrace,
	}
}

// Register adds a tool to the store. Registering a name that is already
// present fails with ErrDuplicateTool and leaves the store unchanged.
func (s *ToolStore) Register(tool Tool) error {
	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.order = append(s.order, tool.Name)
	return nil
}

// AddTools registers several tools, keeping the first registration when a
// name repeats.
func (s *ToolStore) AddTools(tools []Tool) {
	for _, tool := range tools {
		if err := s.Register(tool); err != nil && s.log != nil {
			s.log.Info("skipping duplicate tool registration", "name", tool.Name)
		}
	}
}

// Lookup returns the tool registered under name or ErrUnknownTool.
func (s *ToolStore) Lookup(name string) (Tool, error) {
	tool, ok := s.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// GetTools returns all registered tools in registration order.
func (s *ToolStore) GetTools() []Tool {
	result := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		result = append(result, s.tools[name])
	}
	return result
}

// ResolveTool validates the name against the store and runs the registered
// resolver. Unknown names fail before any transport call is attempted.
func (s *ToolStore) ResolveTool(name string, argsGetter ToolArgumentGetter, context *Context) (string, error) {
	tool, err := s.Lookup(name)
	if err != nil {
		s.traceUnknown(name, argsGetter)
		return "", err
	}
	results, err := tool.Resolver(context, argsGetter)
	s.traceResolved(name, argsGetter, results)
	return results, err
}

func (s *ToolStore) traceArgs(argsGetter ToolArgumentGetter) string {
	var raw json.RawMessage
	if err := argsGetter(&raw); err != nil {
		return fmt.Sprintf("failed to get tool args: %v", err)
	}
	return string(raw)
}

func (s *ToolStore) traceUnknown(name string, argsGetter ToolArgumentGetter) {
	if s.log != nil && s.doTrace {
		s.log.Info("unknown tool called", "name", name, "args", s.traceArgs(argsGetter))
	}
}

func (s *ToolStore) traceResolved(name string, argsGetter ToolArgumentGetter, result string) {
	if s.log != nil && s.doTrace {
		s.log.Info("tool resolved", "name", name, "args", s.traceArgs(argsGetter), "result", result)
	}
}
