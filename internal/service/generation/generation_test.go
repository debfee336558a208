package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicEnhance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, "Be vivid.", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "a cat", req.Messages[0].Content)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"A fluffy "},{"type":"text","text":"cat at dusk"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL)
	out, err := p.Enhance(context.Background(), EnhanceRequest{SystemPrompt: "Be vivid.", Model: "claude-test", InputText: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "A fluffy cat at dusk", out)
}

func TestAnthropicErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", srv.URL).Enhance(context.Background(), EnhanceRequest{Model: "m", InputText: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.Equal(t, "anthropic: status 429: rate_limit_error: slow down", err.Error())
}

func TestAnthropicEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicProvider("k", srv.URL).Enhance(context.Background(), EnhanceRequest{Model: "m", InputText: "x"})
	assert.ErrorContains(t, err, "empty completion")
}

func TestOpenAIGenerateImage(t *testing.T) {
	pngBytes := []byte("\x89PNG fake")
	var gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openAIImageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotFormat = req.ResponseFormat
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(pngBytes)}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIImageProvider("sk-test", srv.URL)

	img, err := p.GenerateImage(context.Background(), ImageRequest{Prompt: "a cat", Model: "gpt-image-1"})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Empty(t, gotFormat, "gpt-image models reject response_format")

	_, err = p.GenerateImage(context.Background(), ImageRequest{Prompt: "a cat", Model: "dall-e-3"})
	require.NoError(t, err)
	assert.Equal(t, "b64_json", gotFormat)
}

func TestOpenAIContentPolicyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"image_generation_user_error","message":"Content policy violation"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIImageProvider("k", srv.URL).GenerateImage(context.Background(), ImageRequest{Prompt: "x", Model: "gpt-image-1"})
	assert.ErrorContains(t, err, "Content policy violation")
}

func TestEchoIsDeterministic(t *testing.T) {
	ctx := context.Background()
	var p EchoProvider

	text, err := p.Enhance(ctx, EnhanceRequest{Model: "m1", InputText: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, "[m1] hello", text)

	a, err := p.GenerateImage(ctx, ImageRequest{Prompt: "sunset", Model: "img"})
	require.NoError(t, err)
	b, err := p.GenerateImage(ctx, ImageRequest{Prompt: "sunset", Model: "img"})
	require.NoError(t, err)
	c, err := p.GenerateImage(ctx, ImageRequest{Prompt: "sunrise", Model: "img"})
	require.NoError(t, err)

	assert.Equal(t, a.Data, b.Data)
	assert.NotEqual(t, a.Data, c.Data)
	_, err = png.Decode(bytes.NewReader(a.Data))
	assert.NoError(t, err)
}

func TestSelect(t *testing.T) {
	p, err := Select(Options{Mode: ModeAuto})
	require.NoError(t, err)
	assert.Equal(t, "echo", p.Name())

	p, err = Select(Options{Mode: ModeAuto, AnthropicAPIKey: "a", OpenAIAPIKey: "o"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic+openai", p.Name())

	_, err = Select(Options{Mode: ModeLive, AnthropicAPIKey: "a"})
	assert.Error(t, err)

	_, err = Select(Options{Mode: "bogus"})
	assert.Error(t, err)
}
