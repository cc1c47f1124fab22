package ratelimitqueue

import "fmt"

// ProviderError is the structured error every ProviderAdapter must return
// on a failed call, per the External Interfaces contract ("Provider HTTP
// clients ... errors are surfaced as {statusCode, message, retryable}").
type ProviderError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status=%d, retryable=%v): %s", e.StatusCode, e.Retryable, e.Message)
}

// IsRateLimited reports whether this error is the provider's rate-limit
// signal (HTTP 429 or an adapter-specific equivalent it chooses to map to
// the same status code).
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// ProviderAdapter translates a (method, params) call into one outbound
// request against a specific external provider (a CRM API, a telephony
// API, ...). Each RLQ instance is bound to exactly one adapter.
type ProviderAdapter interface {
	// Name identifies the provider for logging/metrics.
	Name() string

	// Call performs one request. It must not retry internally; retry and
	// backoff are the Queue's responsibility so that the rolling-window
	// limiters see every attempt.
	Call(method string, params map[string]interface{}) (response interface{}, err error)
}

// CredentialProvider supplies a refreshable opaque credential a
// ProviderAdapter attaches to outbound requests. Injected per Queue so
// credential refresh is decoupled from rate limiting.
type CredentialProvider interface {
	Token() (string, error)
}

// StaticCredentialProvider is a CredentialProvider for providers whose
// credential never rotates within a process lifetime.
type StaticCredentialProvider struct {
	token string
}

func NewStaticCredentialProvider(token string) *StaticCredentialProvider {
	return &StaticCredentialProvider{token: token}
}

func (s *StaticCredentialProvider) Token() (string, error) { return s.token, nil }
