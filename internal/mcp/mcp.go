// Package mcp implements the Model Context Protocol server for promptlab.
//
// The MCP server exposes the same capabilities as the HTTP API through MCP
// tools and resources, so an AI agent can tune the enhancer, manage test
// cases and run them. Every mutation made here is recorded with the agent
// source.
package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/changelog"
	"github.com/ashita-ai/promptlab/internal/service/enhancer"
	"github.com/ashita-ai/promptlab/internal/service/runner"
	"github.com/ashita-ai/promptlab/internal/service/testcases"
	"github.com/ashita-ai/promptlab/internal/storage"
)

// Server wraps the MCP server with promptlab's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	enhancer  *enhancer.Service
	testCases *testcases.Service
	runner    *runner.Service
	changes   *changelog.Service
	logger    *slog.Logger
}

// Deps holds the services the tools call into.
type Deps struct {
	Enhancer  *enhancer.Service
	TestCases *testcases.Service
	Runner    *runner.Service
	Changelog *changelog.Service
	Logger    *slog.Logger
	Version   string
}

// New creates and configures a new MCP server with all resources and tools.
func New(d Deps) *Server {
	s := &Server{
		enhancer:  d.Enhancer,
		testCases: d.TestCases,
		runner:    d.Runner,
		changes:   d.Changelog,
		logger:    d.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"promptlab",
		d.Version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithInstructions(instructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const instructions = `promptlab tunes a two-stage image pipeline: an enhancer model rewrites each
test case's input text into an image prompt, then an image model renders it.

Typical loop: promptlab_list_test_cases to see results (outdated=true means the
result predates the current config), promptlab_update_config to change the
system prompt, promptlab_run_all to re-run, and promptlab_changelog to see what
changed since you last looked. promptlab_revert_config undoes a bad change.`

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// serviceError turns a service error into a tool error result. Validation
// and lookup failures are the caller's to fix and go back verbatim; anything
// else is logged and summarized.
func (s *Server) serviceError(what string, err error) *mcplib.CallToolResult {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return errorResult("invalid input: " + verr.Error())
	case errors.Is(err, storage.ErrNotFound):
		return errorResult(what + ": not found")
	case errors.Is(err, storage.ErrNotActive):
		return errorResult(what + ": test case is not active")
	default:
		s.logger.Error("mcp: tool failed", "op", what, "error", err)
		return errorResult(what + " failed: " + err.Error())
	}
}
