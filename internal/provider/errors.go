package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingKey is returned before any network call when the provider has no
// API key configured.
var ErrMissingKey = errors.New("api key is not set")

// ErrEmptyPrompt is returned before any request when an image prompt is
// blank.
var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// MissingKey wraps ErrMissingKey with the provider name.
func MissingKey(provider string) error {
	return fmt.Errorf("%s: %w", provider, ErrMissingKey)
}

// DecodeError reports a response that did not have the expected shape.
type DecodeError struct {
	Provider string
	Msg      string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: decoding response: %s: %v", e.Provider, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: decoding response: %s", e.Provider, e.Msg)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// IsRateLimit reports whether err is an HTTP 429 from a provider.
func IsRateLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}

// IsDecode reports whether err is a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
