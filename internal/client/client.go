// Package client is a typed HTTP client for the promptlab API. It unwraps
// the response envelope and turns error envelopes into *Error values.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ashita-ai/promptlab/internal/model"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("client: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("client: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

// Client talks to one promptlab server. Mutations are attributed to the
// configured source.
type Client struct {
	http   *resty.Client
	stream *resty.Client
	source model.Source
}

// Option configures a Client.
type Option func(*Client)

// WithSource sets the X-Source header sent with every request.
func WithSource(s model.Source) Option {
	return func(c *Client) { c.source = s }
}

// WithTimeout bounds each non-streaming request. Runs can take minutes, so
// the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10*time.Minute).
			SetHeader("Accept", "application/json"),
		// Event streams stay open indefinitely.
		stream: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "text/event-stream"),
		source: model.SourceAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-Source", string(c.source))
}

// call executes req and decodes the envelope's data into T.
func call[T any](req *resty.Request, method, path string) (T, error) {
	var zero T
	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return zero, decodeError(resp.StatusCode(), resp.Body())
	}
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return zero, fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return env.Data, nil
}

func decodeError(status int, body []byte) error {
	var env model.APIError
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Message == "" {
		return &Error{StatusCode: status, Message: http.StatusText(status)}
	}
	return &Error{StatusCode: status, Code: env.Error.Code, Message: env.Error.Message}
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (model.HealthResponse, error) {
	return call[model.HealthResponse](c.request(ctx), http.MethodGet, "/health")
}

// Config returns the current enhancer config.
func (c *Client) Config(ctx context.Context) (model.EnhancerConfig, error) {
	return call[model.EnhancerConfig](c.request(ctx), http.MethodGet, "/v1/config")
}

// UpdateConfig replaces the enhancer config, creating a new version.
func (c *Client) UpdateConfig(ctx context.Context, req model.UpdateConfigRequest) (model.EnhancerConfig, error) {
	return call[model.EnhancerConfig](c.request(ctx).SetBody(req), http.MethodPut, "/v1/config")
}

// Versions lists the config history, newest first.
func (c *Client) Versions(ctx context.Context) ([]model.ConfigVersion, error) {
	return call[[]model.ConfigVersion](c.request(ctx), http.MethodGet, "/v1/config/versions")
}

// RenameVersion sets a version's display name.
func (c *Client) RenameVersion(ctx context.Context, version int, name string) (model.ConfigVersion, error) {
	return call[model.ConfigVersion](
		c.request(ctx).SetBody(model.RenameVersionRequest{VersionName: name}),
		http.MethodPatch, "/v1/config/versions/"+strconv.Itoa(version))
}

// Revert restores version as a new config version.
func (c *Client) Revert(ctx context.Context, version int) (model.EnhancerConfig, error) {
	return call[model.EnhancerConfig](c.request(ctx), http.MethodPost,
		"/v1/config/versions/"+strconv.Itoa(version)+"/revert")
}

// TestCases lists active test cases.
func (c *Client) TestCases(ctx context.Context) ([]model.TestCaseSummary, error) {
	return call[[]model.TestCaseSummary](c.request(ctx), http.MethodGet, "/v1/test-cases")
}

// DeletedTestCases lists gravestoned test cases.
func (c *Client) DeletedTestCases(ctx context.Context) ([]model.TestCaseSummary, error) {
	return call[[]model.TestCaseSummary](c.request(ctx), http.MethodGet, "/v1/test-cases/deleted")
}

// CreateTestCase adds a test case.
func (c *Client) CreateTestCase(ctx context.Context, req model.CreateTestCaseRequest) (model.TestCase, error) {
	return call[model.TestCase](c.request(ctx).SetBody(req), http.MethodPost, "/v1/test-cases")
}

// DeleteTestCase gravestones a test case, or purges it when permanent.
func (c *Client) DeleteTestCase(ctx context.Context, id uuid.UUID, permanent bool) error {
	req := c.request(ctx)
	if permanent {
		req.SetQueryParam("permanent", "true")
	}
	_, err := call[json.RawMessage](req, http.MethodDelete, "/v1/test-cases/"+id.String())
	return err
}

// RestoreTestCase brings a deleted test case back.
func (c *Client) RestoreTestCase(ctx context.Context, id uuid.UUID) (model.TestCase, error) {
	return call[model.TestCase](c.request(ctx), http.MethodPost, "/v1/test-cases/"+id.String()+"/restore")
}

// RunTest runs one test case and waits for the terminal result.
func (c *Client) RunTest(ctx context.Context, id uuid.UUID) (model.TestResult, error) {
	return call[model.TestResult](c.request(ctx), http.MethodPost, "/v1/test-cases/"+id.String()+"/run")
}

// RunAll runs every active test case.
func (c *Client) RunAll(ctx context.Context) (model.RunAllResponse, error) {
	return call[model.RunAllResponse](c.request(ctx), http.MethodPost, "/v1/run-all")
}

// LatestResult returns the newest result of a test case.
func (c *Client) LatestResult(ctx context.Context, id uuid.UUID) (model.ResultView, error) {
	return call[model.ResultView](c.request(ctx), http.MethodGet, "/v1/test-cases/"+id.String()+"/result")
}

// Changelog returns entries after since, or all entries when since is empty.
func (c *Client) Changelog(ctx context.Context, since string) (model.ChangelogResponse, error) {
	req := c.request(ctx)
	if since != "" {
		req.SetQueryParam("since", since)
	}
	return call[model.ChangelogResponse](req, http.MethodGet, "/v1/changelog")
}

// Subscribe opens the server-sent event stream. The caller closes the body.
func (c *Client) Subscribe(ctx context.Context, since string) (io.ReadCloser, error) {
	req := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if since != "" {
		req.SetQueryParam("since", since)
	}
	resp, err := req.Get("/v1/subscribe")
	if err != nil {
		return nil, fmt.Errorf("client: subscribe: %w", err)
	}
	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer func() { _ = body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(body, 64*1024))
		return nil, decodeError(resp.StatusCode(), data)
	}
	return body, nil
}
