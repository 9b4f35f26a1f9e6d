package provider

import (
	"fmt"
	"net/http"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/v3/option"

	"github.com/samsaffron/llmloop/internal/config"
	"github.com/samsaffron/llmloop/internal/llm"
)

// New builds the provider described by cfg.
func New(name string, cfg config.ProviderConfig) (llm.Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Type {
	case config.TypeOpenAICompat:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base_url is required", name)
		}
		opts := []CompatOption{WithName(name), WithHTTPClient(client)}
		if len(cfg.ThinkTags) == 2 {
			opts = append(opts, WithThinkTags(cfg.ThinkTags[0], cfg.ThinkTags[1]))
		}
		return NewCompat(cfg.BaseURL, cfg.APIKey, cfg.Model, opts...), nil
	case config.TypeOllama:
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Options, client), nil
	case config.TypeAnthropic:
		opts := []anthropicoption.RequestOption{anthropicoption.WithHTTPClient(client)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropic(cfg.APIKey, cfg.Model, opts...), nil
	case config.TypeOpenAI:
		opts := []openaioption.RequestOption{openaioption.WithHTTPClient(client)}
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		return NewOpenAI(cfg.APIKey, cfg.Model, opts...), nil
	case config.TypeGemini:
		return NewGemini(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown type %q", name, cfg.Type)
	}
}
