package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/promptlab/internal/model"
)

func (s *Server) registerPrompts() {
	// tune-enhancer walks the agent through one edit, run, compare cycle.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("tune-enhancer",
			mcplib.WithPromptDescription("Iterate on the enhancer system prompt toward a goal, measuring each change against the test cases"),
			mcplib.WithArgument("goal",
				mcplib.ArgumentDescription("What the generated images should do better (e.g. \"flatter corporate style\", \"keep text legible\")"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleTuneEnhancerPrompt,
	)

	// diagnose-results summarizes failing and outdated results from the store.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("diagnose-results",
			mcplib.WithPromptDescription("Summarize failing and outdated test results so they can be investigated"),
		),
		s.handleDiagnoseResultsPrompt,
	)

	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the promptlab tools and workflow"),
		),
		s.handleAgentSetupPrompt,
	)
}

func userPrompt(description, text string) *mcplib.GetPromptResult {
	return &mcplib.GetPromptResult{
		Description: description,
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}
}

func (s *Server) handleTuneEnhancerPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	goal := strings.TrimSpace(request.Params.Arguments["goal"])
	if goal == "" {
		return nil, fmt.Errorf("goal argument is required")
	}
	cfg, err := s.enhancer.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: tune-enhancer: %w", err)
	}

	return userPrompt(
		fmt.Sprintf("Tune the enhancer toward: %s", goal),
		fmt.Sprintf(`Goal: %s

The enhancer is at config v%d (model %s, image model %s).

1. CALL promptlab_list_test_cases with full_text=true. Note which cases have
   no result, a failed result, or outdated=true.

2. CALL promptlab_run_all if any result is missing or outdated, so you have a
   baseline at v%d.

3. EDIT the system prompt with promptlab_update_config. Change one thing at a
   time and give the version a short version_name describing the change.

4. CALL promptlab_run_all again and compare enhanced prompts against the
   baseline. Judge them against the goal, not against each other.

5. If the change made things worse, CALL promptlab_revert_config with the
   baseline version. Reverting creates a new version; nothing is lost.

6. Repeat from step 3. Use promptlab_changelog with since=<last id you saw>
   to notice edits made by people in the UI while you work.`,
			goal, cfg.Version, cfg.Model, cfg.ImageModel, cfg.Version),
	), nil
}

func (s *Server) handleDiagnoseResultsPrompt(ctx context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	cases, err := s.testCases.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: diagnose-results: %w", err)
	}
	latest, err := s.runner.LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: diagnose-results: %w", err)
	}
	names := make(map[uuid.UUID]string, len(cases))
	for _, tc := range cases {
		names[tc.ID] = tc.Name
	}

	var failed, outdated []string
	seen := make(map[uuid.UUID]bool, len(latest))
	for _, r := range latest {
		seen[r.TestCaseID] = true
		line := fmt.Sprintf("- %s (%s), config v%d", names[r.TestCaseID], r.TestCaseID, r.ConfigVersion)
		switch {
		case r.Status == model.ResultError:
			failed = append(failed, line+": "+r.ImageError)
		case r.Outdated:
			outdated = append(outdated, line)
		}
	}
	var never []string
	for _, tc := range cases {
		if !seen[tc.ID] {
			never = append(never, fmt.Sprintf("- %s (%s)", tc.Name, tc.ID))
		}
	}

	if len(failed)+len(outdated)+len(never) == 0 {
		return userPrompt("All results are current",
			fmt.Sprintf("All %d test cases have a successful result from the current config. Nothing to diagnose.", len(cases))), nil
	}

	var b strings.Builder
	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", title, strings.Join(lines, "\n"))
	}
	section("Failed runs", failed)
	section("Outdated results (produced by an older config)", outdated)
	section("Never run", never)
	b.WriteString(`For failed runs, read the error: an empty enhanced_prompt means the enhancer
stage failed; otherwise the image stage did. Re-run single cases with
promptlab_run_test once the cause is addressed, and outdated or never-run
cases with promptlab_run_all.`)

	return userPrompt(
		fmt.Sprintf("%d failed, %d outdated, %d never run", len(failed), len(outdated), len(never)),
		b.String(),
	), nil
}

func (s *Server) handleAgentSetupPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return userPrompt("promptlab workflow for AI agents", `You have access to promptlab, a workbench for tuning an image generation
pipeline. Each test case's input text is rewritten by an enhancer model
(controlled by a versioned system prompt) and the result is rendered by an
image model.

## Tools

- promptlab_get_config / promptlab_update_config / promptlab_revert_config:
  read, change and roll back the enhancer config. Every change is a new version.
- promptlab_list_test_cases, promptlab_create_test_case,
  promptlab_update_test_case, promptlab_delete_test_case: manage inputs.
- promptlab_run_test / promptlab_run_all: generate results. Runs are slow and
  cost money; avoid re-running results that are not outdated.
- promptlab_changelog: what changed, and who changed it (ui or agent).

## Rules of thumb

- A result with outdated=true was produced by an older config. Compare like
  with like.
- People may be editing in the UI at the same time. Check the changelog before
  overwriting the config.
- Name versions (version_name) so humans can follow your experiments.`), nil
}
