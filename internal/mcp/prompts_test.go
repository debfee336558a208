package mcp

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/promptlab/internal/model"
)

func promptText(t *testing.T, result *mcplib.GetPromptResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Messages, "expected at least one message")
	msg := result.Messages[0]
	assert.Equal(t, mcplib.RoleUser, msg.Role)
	tc, ok := msg.Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")
	return tc.Text
}

func getPrompt(name string, args map[string]string) mcplib.GetPromptRequest {
	return mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{Name: name, Arguments: args},
	}
}

func TestTuneEnhancerPrompt(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleTuneEnhancerPrompt(context.Background(),
		getPrompt("tune-enhancer", map[string]string{"goal": "keep text legible"}))
	require.NoError(t, err)

	assert.Contains(t, result.Description, "keep text legible")
	text := promptText(t, result)
	assert.Contains(t, text, "config v1")
	assert.Contains(t, text, "echo-text")
	for _, tool := range []string{"promptlab_list_test_cases", "promptlab_update_config", "promptlab_run_all", "promptlab_revert_config"} {
		assert.Contains(t, text, tool)
	}
}

func TestTuneEnhancerPromptRequiresGoal(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := s.handleTuneEnhancerPrompt(context.Background(),
		getPrompt("tune-enhancer", map[string]string{"goal": "  "}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goal")
}

func TestDiagnoseResultsPrompt(t *testing.T) {
	s, a := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleDiagnoseResultsPrompt(ctx, getPrompt("diagnose-results", nil))
	require.NoError(t, err)
	assert.Equal(t, "All results are current", result.Description)
	assert.Contains(t, promptText(t, result), "Nothing to diagnose")

	ran, err := a.TestCases.Create(ctx, model.CreateTestCaseRequest{Name: "ran", InputText: "a cat"}, model.SourceUI)
	require.NoError(t, err)
	idle, err := a.TestCases.Create(ctx, model.CreateTestCaseRequest{Name: "idle", InputText: "a dog"}, model.SourceUI)
	require.NoError(t, err)
	_, err = a.Runner.RunTest(ctx, ran.ID, model.SourceUI)
	require.NoError(t, err)
	_, err = a.Enhancer.Update(ctx, model.UpdateConfigRequest{
		SystemPrompt: "Be terse.", Model: "echo-text", ImageModel: "echo-image",
	}, model.SourceAgent)
	require.NoError(t, err)

	result, err = s.handleDiagnoseResultsPrompt(ctx, getPrompt("diagnose-results", nil))
	require.NoError(t, err)
	assert.Equal(t, "0 failed, 1 outdated, 1 never run", result.Description)
	text := promptText(t, result)
	assert.Contains(t, text, "Outdated results")
	assert.Contains(t, text, ran.ID.String())
	assert.Contains(t, text, "Never run")
	assert.Contains(t, text, idle.ID.String())
	assert.NotContains(t, text, "Failed runs")
}

func TestAgentSetupPrompt(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleAgentSetupPrompt(context.Background(), getPrompt("agent-setup", nil))
	require.NoError(t, err)
	text := promptText(t, result)
	assert.Contains(t, text, "promptlab_run_all")
	assert.Contains(t, text, "outdated=true")
}
