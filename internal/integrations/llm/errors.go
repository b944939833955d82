package llm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedProvider is returned for a provider name with no registered
// constructor.
var ErrUnsupportedProvider = errors.New("llm: unsupported provider")

// ProviderError is an upstream model-service failure. It is never retried
// by the adapters.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm: %s: upstream status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatusCode exposes the upstream status to callers that map errors onto
// HTTP responses. Zero means the call failed before a response was read.
func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// NewProviderError wraps err unless it already is a *ProviderError.
func NewProviderError(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}
