package gateway

import "fmt"

// RateLimitError is raised when the exchange answered 429 on every
// usable address, or when no address has budget left under the
// configured ceiling.
type RateLimitError struct {
	Exchange string
	Address  string
	Path     string
}

func (e *RateLimitError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("rate limit exceeded on %s: no address under weight ceiling for %s", e.Exchange, e.Path)
	}
	return fmt.Sprintf("rate limit exceeded on %s via %s for %s", e.Exchange, e.Address, e.Path)
}

// TransportError wraps every non-429 HTTP failure. The gateway does
// not retry these; callers decide whether to compensate.
type TransportError struct {
	Exchange   string
	Path       string
	StatusCode int
	Body       string
	Cause      error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exchange call %s %s failed: %v", e.Exchange, e.Path, e.Cause)
	}
	return fmt.Sprintf("exchange call %s %s failed: HTTP %d: %s", e.Exchange, e.Path, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
