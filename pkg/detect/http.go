package detect

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// sharedTransport provides connection pooling for all external scoring
// clients. Reusing TCP connections keeps the per-signal sentiment call
// inside its hard latency budget instead of paying a handshake each time.
var sharedTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// NewHTTPClient creates an HTTP client with the shared transport and the
// specified timeout. All provider clients should use this.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// ProviderError represents an HTTP error from an external scoring service.
// Use errors.As() to extract the status code for programmatic handling.
type ProviderError struct {
	StatusCode int
	Body       string
	Provider   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// CheckResponse returns a *ProviderError if the response status is not 2xx.
// The response body is read (bounded) and included for debugging.
func CheckResponse(resp *http.Response, provider string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Limit body read to prevent memory exhaustion from a broken service
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ProviderError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Provider:   provider,
	}
}
