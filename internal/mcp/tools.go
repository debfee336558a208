package mcp

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/promptlab/internal/app"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/service/testcases"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_get_config",
			mcplib.WithDescription(`Show the current enhancer configuration: system prompt, text model,
image model, version number and version name.

Results produced under any other version are reported as outdated.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("include_history",
				mcplib.Description("Also return every saved version, oldest first"),
			),
		),
		s.handleGetConfig,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_update_config",
			mcplib.WithDescription(`Save a new enhancer configuration version.

Omitted fields keep their current value. Every update creates a new version,
which marks all existing results as outdated until they are re-run.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("system_prompt",
				mcplib.Description("Instructions the enhancer model follows when rewriting input text into an image prompt"),
			),
			mcplib.WithString("model",
				mcplib.Description("Text model used for enhancement"),
			),
			mcplib.WithString("image_model",
				mcplib.Description("Image model used for generation"),
			),
			mcplib.WithString("version_name",
				mcplib.Description("Optional label for the new version, e.g. 'more cinematic'. Defaults to v<N>."),
			),
		),
		s.handleUpdateConfig,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_revert_config",
			mcplib.WithDescription(`Restore the content of an earlier version as a new version.

The history is never rewritten: reverting to v2 from v5 creates v6 with v2's content.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("version",
				mcplib.Description("Version number to restore"),
				mcplib.Required(),
				mcplib.Min(1),
			),
		),
		s.handleRevertConfig,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_list_test_cases",
			mcplib.WithDescription(`List active test cases with their latest result.

Each entry carries a preview of the input text and, if the case has been run,
its latest result with status, enhanced prompt, error and outdated flag.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("full_text",
				mcplib.Description("Return the full input text instead of a preview"),
			),
		),
		s.handleListTestCases,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_create_test_case",
			mcplib.WithDescription("Add a test case: a named input text to run through the pipeline."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Short display name, e.g. 'Marketing Slide'"),
				mcplib.Required(),
			),
			mcplib.WithString("input_text",
				mcplib.Description("The raw text the enhancer will rewrite"),
				mcplib.Required(),
			),
		),
		s.handleCreateTestCase,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_update_test_case",
			mcplib.WithDescription("Rename a test case or change its input text. Omitted fields are left unchanged."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id",
				mcplib.Description("Test case id"),
				mcplib.Required(),
			),
			mcplib.WithString("name",
				mcplib.Description("New display name"),
			),
			mcplib.WithString("input_text",
				mcplib.Description("New input text"),
			),
		),
		s.handleUpdateTestCase,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_delete_test_case",
			mcplib.WithDescription(`Delete a test case and its results.

The case itself can be restored from the UI; its results cannot.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id",
				mcplib.Description("Test case id"),
				mcplib.Required(),
			),
		),
		s.handleDeleteTestCase,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_run_test",
			mcplib.WithDescription(`Run one test case through enhancement and image generation and wait for it.

Returns the finished result. A provider failure is reported in the result's
status=error and image_error, not as a tool error.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("id",
				mcplib.Description("Test case id"),
				mcplib.Required(),
			),
		),
		s.handleRunTest,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_run_all",
			mcplib.WithDescription(`Run every active test case concurrently and wait for all of them.

Returns each result plus complete/failed counts. One failing case does not
stop the others.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
		),
		s.handleRunAll,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("promptlab_changelog",
			mcplib.WithDescription(`Read the changelog of config and test case changes made by the UI and agents.

Pass the latest_id from your previous call as since to get only newer entries.
An unknown since returns the whole log.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("since",
				mcplib.Description("Changelog entry id to read after"),
			),
		),
		s.handleChangelog,
	)
}

func (s *Server) handleGetConfig(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cfg, err := s.enhancer.Current(ctx)
	if err != nil {
		return s.serviceError("get config", err), nil
	}
	if !request.GetBool("include_history", false) {
		return jsonResult(cfg)
	}
	history, err := s.enhancer.History(ctx)
	if err != nil {
		return s.serviceError("config history", err), nil
	}
	return jsonResult(map[string]any{
		"config":  cfg,
		"history": history,
	})
}

func (s *Server) handleUpdateConfig(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cur, err := s.enhancer.Current(ctx)
	if err != nil {
		return s.serviceError("update config", err), nil
	}
	req := model.UpdateConfigRequest{
		SystemPrompt: request.GetString("system_prompt", cur.SystemPrompt),
		Model:        request.GetString("model", cur.Model),
		ImageModel:   request.GetString("image_model", cur.ImageModel),
		VersionName:  request.GetString("version_name", ""),
	}
	cfg, err := s.enhancer.Update(ctx, req, model.SourceAgent)
	if err != nil {
		return s.serviceError("update config", err), nil
	}
	return jsonResult(cfg)
}

func (s *Server) handleRevertConfig(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	version := request.GetInt("version", 0)
	if version < 1 {
		return errorResult("version is required"), nil
	}
	cfg, err := s.enhancer.Revert(ctx, version, model.SourceAgent)
	if err != nil {
		return s.serviceError("revert to v"+strconv.Itoa(version), err), nil
	}
	return jsonResult(cfg)
}

// testCaseEntry is one row of promptlab_list_test_cases.
type testCaseEntry struct {
	model.TestCaseSummary
	InputText string            `json:"input_text,omitempty"`
	Result    *model.ResultView `json:"latest_result,omitempty"`
}

func (s *Server) handleListTestCases(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cases, err := s.testCases.List(ctx)
	if err != nil {
		return s.serviceError("list test cases", err), nil
	}
	latest, err := s.runner.LatestAll(ctx)
	if err != nil {
		return s.serviceError("list results", err), nil
	}
	byCase := make(map[uuid.UUID]model.ResultView, len(latest))
	for _, r := range latest {
		byCase[r.TestCaseID] = r
	}

	full := request.GetBool("full_text", false)
	summaries := testcases.Summaries(cases)
	entries := make([]testCaseEntry, len(cases))
	for i, tc := range cases {
		entries[i] = testCaseEntry{TestCaseSummary: summaries[i]}
		if full {
			entries[i].InputText = tc.InputText
		}
		if r, ok := byCase[tc.ID]; ok {
			entries[i].Result = &r
		}
	}
	return jsonResult(map[string]any{
		"test_cases": entries,
		"total":      len(entries),
	})
}

func (s *Server) handleCreateTestCase(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tc, err := s.testCases.Create(ctx, model.CreateTestCaseRequest{
		Name:      request.GetString("name", ""),
		InputText: request.GetString("input_text", ""),
	}, model.SourceAgent)
	if err != nil {
		return s.serviceError("create test case", err), nil
	}
	return jsonResult(tc)
}

func (s *Server) handleUpdateTestCase(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseID(request)
	if res != nil {
		return res, nil
	}
	var req model.UpdateTestCaseRequest
	args := request.GetArguments()
	if _, ok := args["name"]; ok {
		name := request.GetString("name", "")
		req.Name = &name
	}
	if _, ok := args["input_text"]; ok {
		text := request.GetString("input_text", "")
		req.InputText = &text
	}
	tc, err := s.testCases.Update(ctx, id, req, model.SourceAgent)
	if err != nil {
		return s.serviceError("update test case", err), nil
	}
	return jsonResult(tc)
}

func (s *Server) handleDeleteTestCase(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseID(request)
	if res != nil {
		return res, nil
	}
	tc, err := s.testCases.Delete(ctx, id, model.SourceAgent)
	if err != nil {
		return s.serviceError("delete test case", err), nil
	}
	return jsonResult(map[string]any{
		"id":     tc.ID,
		"name":   tc.Name,
		"status": tc.Status,
	})
}

func (s *Server) handleRunTest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, res := parseID(request)
	if res != nil {
		return res, nil
	}
	r, err := s.runner.RunTest(ctx, id, model.SourceAgent)
	if err != nil {
		return s.serviceError("run test case", err), nil
	}
	return jsonResult(r)
}

func (s *Server) handleRunAll(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	results, err := s.runner.RunAll(ctx, model.SourceAgent)
	if err != nil {
		return s.serviceError("run all", err), nil
	}
	return jsonResult(app.Summary(results))
}

func (s *Server) handleChangelog(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	since := strings.TrimSpace(request.GetString("since", ""))
	entries, err := s.changes.Entries(ctx, since)
	if err != nil {
		return s.serviceError("changelog", err), nil
	}
	latest, err := s.changes.LatestID(ctx)
	if err != nil {
		return s.serviceError("changelog", err), nil
	}
	if entries == nil {
		entries = []model.ChangelogEntry{}
	}
	return jsonResult(model.ChangelogResponse{Entries: entries, LatestID: latest})
}

func parseID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	raw := request.GetString("id", "")
	if raw == "" {
		return uuid.Nil, errorResult("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errorResult("invalid id: " + raw)
	}
	return id, nil
}
