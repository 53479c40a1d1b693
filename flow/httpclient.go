package flow

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClientProvider supplies the HTTP client used for protocol exchanges.
// Implementations may pool, instrument or specialize clients per call.
type HTTPClientProvider interface {
	HTTPClient(ctx context.Context) (*http.Client, error)
}

// HTTPClientProviderFunc adapts a function to the provider interface.
type HTTPClientProviderFunc func(ctx context.Context) (*http.Client, error)

func (f HTTPClientProviderFunc) HTTPClient(ctx context.Context) (*http.Client, error) {
	return f(ctx)
}

// StaticHTTPClient wraps a fixed client, useful for tests against mock
// servers.
func StaticHTTPClient(client *http.Client) HTTPClientProvider {
	return HTTPClientProviderFunc(func(ctx context.Context) (*http.Client, error) {
		return client, nil
	})
}

const defaultHTTPTimeout = 30 * time.Second

// DefaultHTTPClientProvider returns instrumented clients with a bounded
// per-call timeout. The transport propagates trace context to the
// authorization server.
type DefaultHTTPClientProvider struct {
	// Timeout bounds each request. Zero selects the default.
	Timeout time.Duration
}

func (p DefaultHTTPClientProvider) HTTPClient(ctx context.Context) (*http.Client, error) {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}, nil
}
