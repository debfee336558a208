package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultOpenAIURL  = "https://api.openai.com"
	defaultImageSize  = "1024x1024"
	imageMIMEType     = "image/png"
	gptImageModelStem = "gpt-image"
)

// OpenAIImageProvider renders images with the OpenAI Images API.
type OpenAIImageProvider struct {
	apiKey     string
	baseURL    string
	size       string
	httpClient *http.Client
}

// NewOpenAIImageProvider creates an Images API client. An empty baseURL
// uses the public endpoint.
func NewOpenAIImageProvider(apiKey, baseURL string) *OpenAIImageProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &OpenAIImageProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		size:       defaultImageSize,
		httpClient: newHTTPClient(defaultClientTimeout),
	}
}

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// GenerateImage requests a single base64-encoded PNG.
func (p *OpenAIImageProvider) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	body := openAIImageRequest{Model: req.Model, Prompt: req.Prompt, N: 1, Size: p.size}
	// gpt-image models always return base64 and reject response_format.
	if !strings.HasPrefix(req.Model, gptImageModelStem) {
		body.ResponseFormat = "b64_json"
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return Image{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewReader(reqBody))
	if err != nil {
		return Image{}, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Image{}, fmt.Errorf("openai: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Image{}, decodeAPIError("openai", resp)
	}

	var result openAIImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Image{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return Image{}, fmt.Errorf("openai: response contained no image")
	}

	data, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return Image{}, fmt.Errorf("openai: decode image: %w", err)
	}
	return Image{Data: data, MIMEType: imageMIMEType}, nil
}
