package sunsynk

import "fmt"

// AuthError reports a failed token grant after all attempts were exhausted.
// The token state held before the failure remains untouched.
type AuthError struct {
	Grant    string
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("sunsynk %s grant failed after %d attempt(s): %v", e.Grant, e.Attempts, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransportError reports an API call that kept failing at the HTTP layer
// (network errors or retryable status codes) after all retries.
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sunsynk %s %s failed after %d attempt(s): %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError reports a well-formed response whose envelope code signals an
// application-level failure. These are never retried.
type APIError struct {
	Path string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sunsynk api error on %s: code %d: %s", e.Path, e.Code, e.Msg)
}
