// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package config loads the process-wide configuration once at startup and
// hands it to the rest of the bridge as an explicit struct.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/joho/godotenv"

	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/mcp"
)

const (
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvDefaultModel    = "MCPBRIDGE_MODEL"
	EnvMaxToolDepth    = "MCPBRIDGE_MAX_TOOL_DEPTH"

	DefaultOpenAIModel = "gpt-4o"
)

type Config struct {
	Services       []llm.ServiceConfig `json:"services"`
	DefaultService string              `json:"defaultService"`
	MCP            mcp.Config          `json:"mcp"`

	SystemPrompt string   `json:"systemPrompt"`
	OutputTags   []string `json:"outputTags"`
	MaxToolDepth int      `json:"maxToolDepth"`

	EnableLLMTrace bool   `json:"enableLLMTrace"`
	HTTPListenAddr string `json:"httpListenAddr"`
}

// Load reads the configuration file (when path is non-empty) and applies
// environment overrides. A .env file in the working directory is honored.
func Load(path string) (*Config, error) {
	// Missing .env files are fine, they are a development convenience.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvOpenAIAPIKey); key != "" && !c.hasServiceType(llm.ServiceTypeOpenAI) {
		model := os.Getenv(EnvDefaultModel)
		if model == "" {
			model = DefaultOpenAIModel
		}
		c.Services = append(c.Services, llm.ServiceConfig{
			Name:         "openai",
			Type:         llm.ServiceTypeOpenAI,
			APIKey:       key,
			DefaultModel: model,
		})
	}

	if key := os.Getenv(EnvAnthropicAPIKey); key != "" && !c.hasServiceType(llm.ServiceTypeAnthropic) {
		c.Services = append(c.Services, llm.ServiceConfig{
			Name:   "anthropic",
			Type:   llm.ServiceTypeAnthropic,
			APIKey: key,
		})
	}

	if depth := os.Getenv(EnvMaxToolDepth); depth != "" {
		if parsed, err := strconv.Atoi(depth); err == nil {
			c.MaxToolDepth = parsed
		}
	}
}

func (c *Config) hasServiceType(serviceType string) bool {
	for _, service := range c.Services {
		if service.Type == serviceType {
			return true
		}
	}
	return false
}

func (c *Config) validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("no LLM services configured: set %s or provide a config file", EnvOpenAIAPIKey)
	}
	for _, service := range c.Services {
		if service.APIKey == "" {
			return fmt.Errorf("service %q has no API key", service.Name)
		}
	}
	return nil
}

// DefaultServiceConfig returns the service selected by DefaultService, or the
// first configured service when unset.
func (c *Config) DefaultServiceConfig() (llm.ServiceConfig, error) {
	if c.DefaultService == "" {
		return c.Services[0], nil
	}
	for _, service := range c.Services {
		if service.Name == c.DefaultService {
			return service, nil
		}
	}
	return llm.ServiceConfig{}, fmt.Errorf("default service %q not found", c.DefaultService)
}

func (c *Config) Clone() *Config {
	clone, err := DeepCopyJSON(*c)
	if err != nil {
		panic(fmt.Sprintf("failed to clone configuration: %v", err))
	}

	return clone
}

// DeepCopyJSON copies a value by marshaling through JSON.
func DeepCopyJSON[T any](value T) (*T, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var copied T
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

// Container holds the active configuration behind an atomic pointer so
// concurrent readers never observe a partial update.
type Container struct {
	cfg atomic.Pointer[Config]
}

func NewContainer(cfg *Config) *Container {
	c := &Container{}
	c.cfg.Store(cfg)
	return c
}

// Config returns the whole configuration readonly.
func (c *Container) Config() *Config {
	return c.cfg.Load()
}

func (c *Container) Update(cfg *Config) {
	c.cfg.Store(cfg)
}

func (c *Container) GetEnableLLMTrace() bool {
	return c.cfg.Load().EnableLLMTrace
}

func (c *Container) MCP() mcp.Config {
	return c.cfg.Load().MCP
}
