// Copyright (c) 2025-present Nimbledge, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package mcp provides a client for the Model Context Protocol (MCP) that
// allows the bridge to access external tools provided by MCP servers.
//
// The client manages connections to one or more servers over SSE or stdio
// transports, discovers the tools each server exposes, and forwards tool
// invocations without interpreting their semantics.
package mcp
