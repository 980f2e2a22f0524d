// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbledge/mcpbridge/agent"
	"github.com/nimbledge/mcpbridge/llm"
	"github.com/nimbledge/mcpbridge/metrics"
)

type staticModel struct {
	reply string
}

func (m *staticModel) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	return llm.NewStreamFromString(m.reply), nil
}

func (m *staticModel) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	return m.reply, nil
}

func (m *staticModel) CountTokens(text string) int { return len(text) / 4 }
func (m *staticModel) InputTokenLimit() int        { return 100000 }

func newTestAPI(t *testing.T) *API {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	bridgeAgent := agent.New(&staticModel{reply: "hello"}, llm.NewNoTools(), log, agent.Config{})
	return New(bridgeAgent, metrics.NewNoopMetrics(), log)
}

func TestHandleChat(t *testing.T) {
	router := newTestAPI(t).Router()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"prompt": "hi"}`))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"reply": "hello"}`, recorder.Body.String())
}

func TestHandleChatMissingPrompt(t *testing.T) {
	router := newTestAPI(t).Router()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{}`))
	request.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleHealth(t *testing.T) {
	router := newTestAPI(t).Router()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}
