// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Command mcpbridge connects an LLM conversation loop to tools exposed by
// MCP servers. It runs a single prompt, an interactive loop, or an HTTP
// server depending on flags.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbledge/mcpbridge/agent"
	"github.com/nimbledge/mcpbridge/api"
	"github.com/nimbledge/mcpbridge/config"
	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/mcp"
	"github.com/nimbledge/mcpbridge/metrics"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	prompt := flag.String("prompt", "", "run a single prompt and exit")
	serve := flag.Bool("serve", false, "run the HTTP server instead of the interactive loop")
	listen := flag.String("listen", ":8080", "address for the HTTP server")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(log, *configPath, *prompt, *serve, *listen); err != nil {
		log.WithError(err).Fatal("mcpbridge failed")
	}
}

func run(log *logrus.Logger, configPath, prompt string, serve bool, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	container := config.NewContainer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsService := metrics.NewMetrics(metrics.InstanceInfo{Version: version})

	registry := llm.NewToolStore(agent.NewTraceLog(log), container.GetEnableLLMTrace())
	if len(container.MCP().Servers) > 0 {
		mcpClient := mcp.NewClient(container.MCP(), log, metricsService)
		if err := mcpClient.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to MCP servers: %w", err)
		}
		defer mcpClient.Close()

		registry.AddTools(mcpClient.Tools())
		log.WithField("tools", len(mcpClient.Tools())).Info("Connected to MCP servers")
	}

	bridgeAgent, err := buildAgent(container, registry, metricsService, log)
	if err != nil {
		return err
	}

	switch {
	case serve:
		return runServer(ctx, log, bridgeAgent, metricsService, listen)
	case prompt != "":
		reply, err := bridgeAgent.Run(ctx, prompt)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	default:
		return runInteractive(ctx, log, bridgeAgent)
	}
}

func buildAgent(container *config.Container, registry *llm.ToolStore, metricsService metrics.Metrics, log *logrus.Logger) (*agent.Agent, error) {
	cfg := container.Config()
	service, err := cfg.DefaultServiceConfig()
	if err != nil {
		return nil, err
	}

	model, err := agent.GetLLM(service, &http.Client{}, metricsService, log, container.GetEnableLLMTrace())
	if err != nil {
		return nil, err
	}

	prompts, err := llm.NewPrompts(llm.PromptsFolder)
	if err != nil {
		return nil, err
	}
	systemPrompt, err := prompts.Format(llm.PromptStandardSystem, llm.NewContext(
		llm.WithCustomInstructions(cfg.SystemPrompt),
	))
	if err != nil {
		return nil, err
	}

	return agent.New(model, registry, log, agent.Config{
		MaxToolDepth: cfg.MaxToolDepth,
		SystemPrompt: systemPrompt,
		OutputTags:   cfg.OutputTags,
	}), nil
}

func runServer(ctx context.Context, log *logrus.Logger, bridgeAgent *agent.Agent, metricsService metrics.Metrics, listen string) error {
	server := &http.Server{
		Addr:              listen,
		Handler:           api.New(bridgeAgent, metricsService, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()
	log.WithField("addr", listen).Info("HTTP server listening")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func runInteractive(ctx context.Context, log *logrus.Logger, bridgeAgent *agent.Agent) error {
	conversation := bridgeAgent.NewSeededConversation()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\nEnter your prompt (or 'quit' to exit): ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}

		reply, err := bridgeAgent.Continue(ctx, conversation, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.WithError(err).Error("Failed to process prompt")
			continue
		}

		fmt.Printf("\nResponse: %s\n", reply)
	}
}
