package dewarmte

import "fmt"

// AuthError indicates the token endpoint rejected the credentials or
// was unreachable. It is not retried beyond the refresh→re-auth fallback.
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed with status %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// TransportError indicates a non-2xx response outside the single
// 401 refresh-and-retry path.
type TransportError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d: %s", e.Path, e.StatusCode, e.Body)
}

// DecodeError indicates a response body was missing expected fields
// or was not valid JSON. Never coerced to defaults silently.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
