package generation

import "fmt"

// Provider modes accepted by Select.
const (
	ModeAuto = "auto"
	ModeLive = "live"
	ModeEcho = "echo"
)

// Options configures Select.
type Options struct {
	Mode             string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
}

// Select builds the provider for opts.Mode. "auto" uses the live APIs when
// both keys are present and falls back to echo otherwise; "live" requires
// both keys.
func Select(opts Options) (Provider, error) {
	hasKeys := opts.AnthropicAPIKey != "" && opts.OpenAIAPIKey != ""
	switch opts.Mode {
	case ModeEcho:
		return EchoProvider{}, nil
	case ModeAuto, "":
		if !hasKeys {
			return EchoProvider{}, nil
		}
	case ModeLive:
		if !hasKeys {
			return nil, fmt.Errorf("generation: live mode requires both ANTHROPIC_API_KEY and OPENAI_API_KEY")
		}
	default:
		return nil, fmt.Errorf("generation: unknown provider mode %q (want auto, live or echo)", opts.Mode)
	}
	return &Composite{
		Text:   NewAnthropicProvider(opts.AnthropicAPIKey, opts.AnthropicBaseURL),
		Images: NewOpenAIImageProvider(opts.OpenAIAPIKey, opts.OpenAIBaseURL),
		Label:  "anthropic+openai",
	}, nil
}
