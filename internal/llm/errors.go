package llm

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is returned when no API key is configured.
var ErrMissingCredential = errors.New("API key not set")

// GenericProviderMessage is used when the provider gives no usable message.
const GenericProviderMessage = "error communicating with completion provider"

// ProviderError is a failed completion call: a non-success response or a
// transport failure.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Kind labels an error for metrics.
func Kind(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.As(err, &pe) && pe.StatusCode > 0:
		return "provider_status"
	case errors.As(err, &pe):
		return "transport"
	default:
		return "other"
	}
}
