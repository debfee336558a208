// Package generation provides the text-enhancement and image-synthesis
// backends used by the test runner.
//
// A Provider pairs an Enhancer with an ImageGenerator. The live pairing is
// Anthropic for text and OpenAI for images; EchoProvider is a deterministic
// offline stand-in for development and tests.
package generation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// EnhanceRequest asks a text model to rewrite InputText under SystemPrompt.
type EnhanceRequest struct {
	SystemPrompt string
	Model        string
	InputText    string
}

// ImageRequest asks an image model to render Prompt.
type ImageRequest struct {
	Prompt string
	Model  string
}

// Image is a generated image.
type Image struct {
	Data     []byte
	MIMEType string
}

// Enhancer turns a raw test input into an image prompt.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}

// ImageGenerator renders an image from a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

// Provider is the full two-stage backend the runner calls.
type Provider interface {
	Enhancer
	ImageGenerator
	// Name identifies the provider in logs and health output.
	Name() string
}

// APIError is a non-success response from a remote model API.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Composite combines a text backend and an image backend.
type Composite struct {
	Text   Enhancer
	Images ImageGenerator
	Label  string
}

var _ Provider = (*Composite)(nil)

// Enhance delegates to the text backend.
func (c *Composite) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	return c.Text.Enhance(ctx, req)
}

// GenerateImage delegates to the image backend.
func (c *Composite) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	return c.Images.GenerateImage(ctx, req)
}

// Name returns the configured label.
func (c *Composite) Name() string { return c.Label }

// newHTTPClient returns a client that propagates trace context to the
// remote API and bounds each request by timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
