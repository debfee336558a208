package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	uriConfig    = "promptlab://config"
	uriTestCases = "promptlab://test-cases"
	uriResults   = "promptlab://test-cases/{id}/results"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriConfig,
			"Enhancer Config",
			mcplib.WithResourceDescription("Current enhancer configuration"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleConfigResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriTestCases,
			"Test Cases",
			mcplib.WithResourceDescription("Active test cases with their latest results"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTestCasesResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriResults,
			"Test Case Results",
			mcplib.WithTemplateDescription("Run history for one test case, newest first"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleResultsResource,
	)
}

func (s *Server) handleConfigResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	cfg, err := s.enhancer.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: config: %w", err)
	}
	return textResource(request.Params.URI, cfg)
}

func (s *Server) handleTestCasesResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	cases, err := s.testCases.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: test cases: %w", err)
	}
	results, err := s.runner.LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: latest results: %w", err)
	}
	return textResource(request.Params.URI, map[string]any{
		"test_cases": cases,
		"results":    results,
	})
}

func (s *Server) handleResultsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, uriTestCases+"/"), "/results")
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid results URI: %s", uri)
	}
	history, err := s.runner.History(ctx, id, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: results: %w", err)
	}
	return textResource(uri, map[string]any{
		"test_case_id": id,
		"results":      history,
	})
}

func textResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
