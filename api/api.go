// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package api exposes the bridge over HTTP. Every chat request runs its own
// conversation; nothing is shared between requests except the read-only tool
// registry inside the agent.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nimbledge/mcpbridge/agent"
	"github.com/nimbledge/mcpbridge/mcp"
	"github.com/nimbledge/mcpbridge/metrics"
)

// API represents the HTTP functionality of the bridge
type API struct {
	agent          *agent.Agent
	metricsService metrics.Metrics
	log            logrus.FieldLogger
}

// New creates a new API instance
func New(bridgeAgent *agent.Agent, metricsService metrics.Metrics, log logrus.FieldLogger) *API {
	return &API{
		agent:          bridgeAgent,
		metricsService: metricsService,
		log:            log,
	}
}

// Router builds the gin router for the bridge.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.ginlogger)
	router.Use(a.metricsMiddleware)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metricsService.GetRegistry(), promhttp.HandlerOpts{})))
	router.GET("/api/v1/health", a.handleHealth)
	router.POST("/api/v1/chat", a.handleChat)

	return router
}

func (a *API) ginlogger(c *gin.Context) {
	c.Next()

	if len(c.Errors) > 0 {
		for _, ginErr := range c.Errors {
			a.log.WithField("error", ginErr.Err).Error("Error handling request")
		}
	}
}

func (a *API) metricsMiddleware(c *gin.Context) {
	a.metricsService.IncrementHTTPRequests()
	c.Next()

	status := c.Writer.Status()
	if status < 200 || status > 299 {
		a.metricsService.IncrementHTTPErrors()
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (a *API) handleChat(c *gin.Context) {
	var request chatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithError(http.StatusBadRequest, err) //nolint:errcheck
		return
	}

	reply, err := a.agent.Run(c.Request.Context(), request.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrToolLoopLimit):
			c.AbortWithError(http.StatusUnprocessableEntity, err) //nolint:errcheck
		case errors.Is(err, mcp.ErrToolCallTimeout):
			c.AbortWithError(http.StatusGatewayTimeout, err) //nolint:errcheck
		default:
			c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck
		}
		return
	}

	c.JSON(http.StatusOK, chatResponse{Reply: reply})
}
