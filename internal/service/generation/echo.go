package generation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
)

const echoImageSide = 16

// EchoProvider is a deterministic offline provider. Enhance wraps the input
// with the model name; GenerateImage paints a small PNG whose colors are
// derived from the prompt, so equal prompts give identical bytes.
type EchoProvider struct{}

var _ Provider = EchoProvider{}

// Name returns "echo".
func (EchoProvider) Name() string { return "echo" }

// Enhance returns a stable rewrite of the input.
func (EchoProvider) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	input := strings.TrimSpace(req.InputText)
	if input == "" {
		return "", fmt.Errorf("echo: empty input text")
	}
	return fmt.Sprintf("[%s] %s", req.Model, input), nil
}

// GenerateImage renders a 16x16 PNG seeded by the prompt.
func (EchoProvider) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	sum := sha256.Sum256([]byte(req.Model + "\x00" + req.Prompt))

	img := image.NewRGBA(image.Rect(0, 0, echoImageSide, echoImageSide))
	for y := range echoImageSide {
		for x := range echoImageSide {
			i := (x/4 + (y/4)*4) % 10
			img.Set(x, y, color.RGBA{R: sum[i*3], G: sum[i*3+1], B: sum[i*3+2], A: 0xff})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("echo: encode png: %w", err)
	}
	return Image{Data: buf.Bytes(), MIMEType: imageMIMEType}, nil
}
