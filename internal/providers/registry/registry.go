package registry

import (
	"fmt"
	"net/http"
	"time"

	"netpilot/internal/providers"
	"netpilot/internal/providers/anthropic_messages"
	"netpilot/internal/providers/openai_compat"
)

const (
	NameOpenAI     = "openai"
	NameGroq       = "groq"
	NameOpenRouter = "openrouter"
	NameAnthropic  = "anthropic"
)

var defaultBaseURLs = map[string]string{
	NameOpenAI:     "https://api.openai.com/v1",
	NameGroq:       "https://api.groq.com/openai/v1",
	NameOpenRouter: "https://openrouter.ai/api/v1",
	NameAnthropic:  "https://api.anthropic.com",
}

var DefaultModels = map[string]string{
	NameOpenAI:     "gpt-4",
	NameGroq:       "llama3-70b-8192",
	NameOpenRouter: "anthropic/claude-3.5-sonnet",
	NameAnthropic:  "claude-3-sonnet-20240229",
}

type BuildOptions struct {
	Name        string
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

func Build(opts BuildOptions) (providers.Provider, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[opts.Name]
	}

	switch opts.Name {
	case NameOpenAI, NameGroq, NameOpenRouter:
		return openai_compat.New(openai_compat.Config{
			BaseURL:     baseURL,
			APIKey:      opts.APIKey,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case NameAnthropic:
		return anthropic_messages.New(anthropic_messages.Config{
			BaseURL:     baseURL,
			APIKey:      opts.APIKey,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported provider %q", opts.Name)
	}
}

func Known(name string) bool {
	_, ok := defaultBaseURLs[name]
	return ok
}
