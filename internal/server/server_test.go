package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/promptlab/api"
	"github.com/ashita-ai/promptlab/internal/app"
	"github.com/ashita-ai/promptlab/internal/mcp"
	"github.com/ashita-ai/promptlab/internal/model"
	"github.com/ashita-ai/promptlab/internal/ratelimit"
	"github.com/ashita-ai/promptlab/internal/server"
	"github.com/ashita-ai/promptlab/internal/service/enhancer"
	"github.com/ashita-ai/promptlab/internal/service/generation"
	"github.com/ashita-ai/promptlab/internal/service/runner"
	"github.com/ashita-ai/promptlab/internal/testutil"
)

type testEnv struct {
	srv *httptest.Server
	app *app.App
}

func newTestEnv(t *testing.T, opts ...func(*server.ServerConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := testutil.DiscardLogger()

	a := app.New(testutil.NewSQLiteStore(t), generation.EchoProvider{}, logger, runner.Options{})
	_, err := a.Enhancer.Seed(ctx, enhancer.Defaults{
		SystemPrompt: "Be vivid.",
		Model:        "echo-text",
		ImageModel:   "echo-image",
	})
	require.NoError(t, err)

	mcpSrv := mcp.New(mcp.Deps{
		Enhancer:  a.Enhancer,
		TestCases: a.TestCases,
		Runner:    a.Runner,
		Changelog: a.Changelog,
		Logger:    logger,
		Version:   "test",
	})
	cfg := server.ServerConfig{
		App:                 a,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Version:             "test",
		MaxRequestBodyBytes: 64 * 1024,
	}
	for _, o := range opts {
		o(&cfg)
	}
	ts := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, app: a}
}

// do sends a JSON request. headers alternate name, value.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func data[T any](t *testing.T, body []byte) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env), "body: %s", body)
	return env.Data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env model.APIError
	require.NoError(t, json.Unmarshal(body, &env), "body: %s", body)
	return env.Error.Code
}

func (e *testEnv) createCase(t *testing.T, name, input string) model.TestCase {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/test-cases", model.CreateTestCaseRequest{Name: name, InputText: input})
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	return data[model.TestCase](t, body)
}

func TestOpenAPISpec(t *testing.T) {
	e := newTestEnv(t, func(c *server.ServerConfig) { c.OpenAPISpec = api.OpenAPISpec })

	resp, err := http.Get(e.srv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	var doc struct {
		OpenAPI string                    `yaml:"openapi"`
		Paths   map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "3.1.0", doc.OpenAPI)

	routes := map[string][]string{
		"/health":                              {"get"},
		"/v1/config":                           {"get", "put"},
		"/v1/config/versions":                  {"get"},
		"/v1/config/versions/{version}":        {"get", "patch"},
		"/v1/config/versions/{version}/revert": {"post"},
		"/v1/test-cases":                       {"get", "post"},
		"/v1/test-cases/deleted":               {"get"},
		"/v1/test-cases/{id}":                  {"get", "put", "delete"},
		"/v1/test-cases/{id}/restore":          {"post"},
		"/v1/test-cases/{id}/run":              {"post"},
		"/v1/run-all":                          {"post"},
		"/v1/test-cases/{id}/result":           {"get"},
		"/v1/test-cases/{id}/results":          {"get"},
		"/v1/results/{id}":                     {"get"},
		"/v1/images/{id}":                      {"get"},
		"/v1/changelog":                        {"get"},
		"/v1/subscribe":                        {"get"},
	}
	for path, methods := range routes {
		ops, ok := doc.Paths[path]
		if !assert.True(t, ok, "path %s is not documented", path) {
			continue
		}
		for _, m := range methods {
			assert.Contains(t, ops, m, "%s %s is not documented", m, path)
		}
	}
}

func TestOpenAPISpecUnset(t *testing.T) {
	e := newTestEnv(t)
	status, _ := e.do(t, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)
	status, body := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	h := data[model.HealthResponse](t, body)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "connected", h.Storage)
	assert.Equal(t, "sqlite", h.Backend)
	assert.Equal(t, "echo", h.Provider)
	assert.Equal(t, "test", h.Version)
}

func TestConfigLifecycle(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, http.MethodGet, "/v1/config", nil)
	require.Equal(t, http.StatusOK, status)
	cfg := data[model.EnhancerConfig](t, body)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "v1", cfg.VersionName)

	status, body = e.do(t, http.MethodPut, "/v1/config", model.UpdateConfigRequest{
		SystemPrompt: "Be cinematic.", Model: "echo-text", ImageModel: "echo-image", VersionName: "cinematic",
	}, "X-Source", "agent")
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	cfg = data[model.EnhancerConfig](t, body)
	assert.Equal(t, 2, cfg.Version)
	assert.Equal(t, "cinematic", cfg.VersionName)

	status, body = e.do(t, http.MethodPost, "/v1/config/versions/1/revert", nil)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	cfg = data[model.EnhancerConfig](t, body)
	assert.Equal(t, 3, cfg.Version)
	assert.Equal(t, "Be vivid.", cfg.SystemPrompt)
	assert.Equal(t, "v3 (revert to v1)", cfg.VersionName)

	status, body = e.do(t, http.MethodPatch, "/v1/config/versions/2", model.RenameVersionRequest{VersionName: "too cinematic"})
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.Equal(t, "too cinematic", data[model.ConfigVersion](t, body).VersionName)

	status, body = e.do(t, http.MethodGet, "/v1/config/versions", nil)
	require.Equal(t, http.StatusOK, status)
	versions := data[[]model.ConfigVersion](t, body)
	require.Len(t, versions, 3)
	assert.Equal(t, "too cinematic", versions[1].VersionName)

	status, body = e.do(t, http.MethodGet, "/v1/config/versions/2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Be cinematic.", data[model.ConfigVersion](t, body).SystemPrompt)

	status, body = e.do(t, http.MethodGet, "/v1/changelog", nil)
	require.Equal(t, http.StatusOK, status)
	log := data[model.ChangelogResponse](t, body)
	require.Len(t, log.Entries, 3)
	assert.Equal(t, model.SourceAgent, log.Entries[0].Source)
	assert.Equal(t, model.SourceUI, log.Entries[1].Source)
	require.NotNil(t, log.LatestID)
	assert.Equal(t, log.Entries[2].ID, *log.LatestID)
}

func TestConfigValidation(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, http.MethodPut, "/v1/config", model.UpdateConfigRequest{Model: "m", ImageModel: "i"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, body))

	status, _ = e.do(t, http.MethodPut, "/v1/config", map[string]any{"system_prompt": "x", "temperature": 2})
	assert.Equal(t, http.StatusBadRequest, status, "unknown fields are rejected")

	status, body = e.do(t, http.MethodGet, "/v1/config/versions/9", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, model.ErrCodeNotFound, errorCode(t, body))

	status, _ = e.do(t, http.MethodGet, "/v1/config/versions/zero", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/v1/config/versions/9/revert", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, body = e.do(t, http.MethodGet, "/v1/config", nil)
	assert.Equal(t, 1, data[model.EnhancerConfig](t, body).Version, "failed requests leave the config alone")
}

func TestInvalidSourceHeader(t *testing.T) {
	e := newTestEnv(t)
	status, body := e.do(t, http.MethodPost, "/v1/test-cases",
		model.CreateTestCaseRequest{Name: "a", InputText: "b"}, "X-Source", "cron")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, body))

	_, body = e.do(t, http.MethodGet, "/v1/test-cases", nil)
	assert.Empty(t, data[[]model.TestCaseSummary](t, body))
}

func TestTestCaseLifecycle(t *testing.T) {
	e := newTestEnv(t)
	tc := e.createCase(t, "Marketing Slide", strings.Repeat("Q3 revenue grew 40 percent. ", 10))
	path := "/v1/test-cases/" + tc.ID.String()

	status, body := e.do(t, http.MethodGet, "/v1/test-cases", nil)
	require.Equal(t, http.StatusOK, status)
	list := data[[]model.TestCaseSummary](t, body)
	require.Len(t, list, 1)
	assert.True(t, strings.HasSuffix(list[0].Preview, "…"))

	status, body = e.do(t, http.MethodPut, path, map[string]string{"name": "Launch Slide"})
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.Equal(t, "Launch Slide", data[model.TestCase](t, body).Name)
	assert.Equal(t, tc.InputText, data[model.TestCase](t, body).InputText)

	status, body = e.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.Equal(t, model.TestCaseDeleted, data[model.TestCase](t, body).Status)

	status, _ = e.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = e.do(t, http.MethodGet, "/v1/test-cases/deleted", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, data[[]model.TestCaseSummary](t, body), 1)

	status, _ = e.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusConflict, status, "deleting twice conflicts")

	status, body = e.do(t, http.MethodPost, path+"/restore", nil)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.Equal(t, model.TestCaseActive, data[model.TestCase](t, body).Status)

	status, _ = e.do(t, http.MethodPost, path+"/restore", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = e.do(t, http.MethodDelete, path+"?permanent=true", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodPost, path+"/restore", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, http.MethodGet, "/v1/test-cases/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = e.do(t, http.MethodPut, "/v1/test-cases/"+uuid.NewString(), map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRunAndResults(t *testing.T) {
	e := newTestEnv(t)
	tc := e.createCase(t, "Marketing Slide", "Q3 revenue up 40%")
	path := "/v1/test-cases/" + tc.ID.String()

	status, _ := e.do(t, http.MethodGet, path+"/result", nil)
	assert.Equal(t, http.StatusNotFound, status, "no result before the first run")

	status, body := e.do(t, http.MethodPost, path+"/run", nil)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	result := data[model.TestResult](t, body)
	assert.Equal(t, model.ResultComplete, result.Status)
	assert.Equal(t, "[echo-text] Q3 revenue up 40%", result.EnhancedPrompt)
	assert.Equal(t, 1, result.ConfigVersion)
	require.NotNil(t, result.GeneratedImageID)

	resp, err := http.Get(e.srv.URL + "/v1/images/" + result.GeneratedImageID.String())
	require.NoError(t, err)
	img, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))

	status, body = e.do(t, http.MethodGet, path+"/result", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, data[model.ResultView](t, body).Outdated)

	e.do(t, http.MethodPut, "/v1/config", model.UpdateConfigRequest{SystemPrompt: "Be bold.", Model: "echo-text", ImageModel: "echo-image"})

	status, body = e.do(t, http.MethodGet, path+"/result", nil)
	require.Equal(t, http.StatusOK, status)
	view := data[model.ResultView](t, body)
	assert.True(t, view.Outdated)
	assert.Equal(t, 1, view.ConfigVersion)

	status, body = e.do(t, http.MethodGet, "/v1/results/"+result.ID.String(), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, result.ID, data[model.ResultView](t, body).ID)

	e.do(t, http.MethodPost, path+"/run", nil)
	status, body = e.do(t, http.MethodGet, path+"/results?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	history := data[[]model.ResultView](t, body)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].ConfigVersion)
	assert.False(t, history[0].Outdated)
	assert.True(t, history[1].Outdated)

	status, _ = e.do(t, http.MethodPost, "/v1/test-cases/"+uuid.NewString()+"/run", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodGet, "/v1/images/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRunAll(t *testing.T) {
	e := newTestEnv(t)
	e.createCase(t, "a", "first")
	e.createCase(t, "b", "second")
	e.createCase(t, "c", "third")

	status, body := e.do(t, http.MethodPost, "/v1/run-all", nil, "X-Source", "agent")
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	resp := data[model.RunAllResponse](t, body)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, 3, resp.Complete)
	assert.Equal(t, 0, resp.Failed)
}

func TestChangelogCursor(t *testing.T) {
	e := newTestEnv(t)
	e.createCase(t, "a", "first")

	_, body := e.do(t, http.MethodGet, "/v1/changelog", nil)
	first := data[model.ChangelogResponse](t, body)
	require.Len(t, first.Entries, 1)
	require.NotNil(t, first.LatestID)

	e.createCase(t, "b", "second")

	_, body = e.do(t, http.MethodGet, "/v1/changelog?since="+first.LatestID.String(), nil)
	next := data[model.ChangelogResponse](t, body)
	require.Len(t, next.Entries, 1)
	assert.Contains(t, next.Entries[0].Summary, `"b"`)

	_, body = e.do(t, http.MethodGet, "/v1/changelog?since="+uuid.NewString(), nil)
	assert.Len(t, data[model.ChangelogResponse](t, body).Entries, 2, "unknown cursor returns everything")
}

type sseEvent struct {
	name string
	data json.RawMessage
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestSubscribeStream(t *testing.T) {
	e := newTestEnv(t)
	existing := e.createCase(t, "existing", "already here")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/subscribe", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)

	connected := readEvent(t, r)
	assert.Equal(t, "connected", connected.name)
	assert.Contains(t, string(connected.data), `"client_id":"client-`)

	initial := readEvent(t, r)
	require.Equal(t, "initial_state", initial.name)
	var state struct {
		Type      string                 `json:"type"`
		Config    model.EnhancerConfig   `json:"config"`
		TestCases []model.TestCase       `json:"test_cases"`
		Results   []model.ResultView     `json:"results"`
		Changes   []model.ChangelogEntry `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(initial.data, &state))
	assert.Equal(t, "initial_state", state.Type)
	assert.Equal(t, 1, state.Config.Version)
	require.Len(t, state.TestCases, 1)
	assert.Equal(t, existing.ID, state.TestCases[0].ID)
	assert.NotNil(t, state.Results)
	assert.Len(t, state.Changes, 1)

	created := e.createCase(t, "live", "arrives over the stream")

	added := readEvent(t, r)
	assert.Equal(t, "test_case_added", added.name)
	assert.Contains(t, string(added.data), created.ID.String())

	logged := readEvent(t, r)
	assert.Equal(t, "changelog_entry_added", logged.name)

	e.do(t, http.MethodPost, "/v1/test-cases/"+created.ID.String()+"/run", nil)
	var statuses []string
	for range 4 {
		ev := readEvent(t, r)
		require.Equal(t, "test_result_updated", ev.name)
		var payload struct {
			Result model.TestResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(ev.data, &payload))
		statuses = append(statuses, string(payload.Result.Status))
	}
	assert.Equal(t, []string{"pending", "enhancing", "generating_image", "complete"}, statuses)
}

func TestSubscribeSinceFiltersChanges(t *testing.T) {
	e := newTestEnv(t)
	e.createCase(t, "a", "first")
	_, body := e.do(t, http.MethodGet, "/v1/changelog", nil)
	cursor := data[model.ChangelogResponse](t, body).LatestID
	require.NotNil(t, cursor)
	e.createCase(t, "b", "second")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/v1/subscribe?since="+cursor.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	r := bufio.NewReader(resp.Body)
	readEvent(t, r)
	initial := readEvent(t, r)
	var state struct {
		Changes []model.ChangelogEntry `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(initial.data, &state))
	require.Len(t, state.Changes, 1)
	assert.Contains(t, state.Changes[0].Summary, `"b"`)
}

func newMCPClient(t *testing.T, e *testEnv) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(e.srv.URL + "/mcp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	initRes, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "promptlab", initRes.ServerInfo.Name)
	return c
}

func TestMCPOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	c := newMCPClient(t, e)
	ctx := context.Background()

	tools, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"promptlab_get_config", "promptlab_update_config", "promptlab_revert_config",
		"promptlab_list_test_cases", "promptlab_create_test_case", "promptlab_update_test_case",
		"promptlab_delete_test_case", "promptlab_run_test", "promptlab_run_all", "promptlab_changelog",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}

	res, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "promptlab_create_test_case",
			Arguments: map[string]any{"name": "From Agent", "input_text": "a robot painting"},
		},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, "create returned error: %v", res.Content)

	_, body := e.do(t, http.MethodGet, "/v1/changelog", nil)
	entries := data[model.ChangelogResponse](t, body).Entries
	require.Len(t, entries, 1)
	assert.Equal(t, model.SourceAgent, entries[0].Source)
	assert.Equal(t, model.ActionTestCaseCreated, entries[0].Action)

	resources, err := c.ListResources(ctx, mcplib.ListResourcesRequest{})
	require.NoError(t, err)
	assert.Len(t, resources.Resources, 2)
}

func TestRunEndpointsAreThrottled(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	e := newTestEnv(t, func(c *server.ServerConfig) { c.RunLimiter = limiter })

	status, _ := e.do(t, http.MethodPost, "/v1/run-all", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := e.do(t, http.MethodPost, "/v1/run-all", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, model.ErrCodeRateLimited, errorCode(t, body))

	// Agent requests have their own bucket.
	status, _ = e.do(t, http.MethodPost, "/v1/run-all", nil, "X-Source", "agent")
	assert.Equal(t, http.StatusOK, status)

	// Non-run endpoints are unaffected.
	status, _ = e.do(t, http.MethodGet, "/v1/config", nil)
	assert.Equal(t, http.StatusOK, status)
}
