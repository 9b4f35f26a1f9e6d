package provider

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"

	"github.com/samsaffron/llmloop/internal/llm"
)

// sdkError converts an SDK failure into a *llm.ProviderError, keeping the
// HTTP status when the SDK reports one.
func sdkError(name string, err error) error {
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	return &llm.ProviderError{Provider: name, StatusCode: statusOf(err), Err: err}
}

func statusOf(err error) int {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode
	}
	var gerr genai.APIError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
