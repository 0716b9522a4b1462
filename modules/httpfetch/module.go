// Package httpfetch provides the default HTTP transport: a shared,
// connection-pooling client and a Fetcher that executes one rendered
// outbound request.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vk/reqrelay/internal/model"
	"github.com/vk/reqrelay/internal/registry"
)

// DefaultTimeout bounds a single request/response exchange when the module
// is registered with its defaults.
const DefaultTimeout = 30 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register installs the http transport with the default client.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFetcher(model.TransportHTTP, New(DefaultTimeout))
}

// Fetcher executes outbound requests over a shared http.Client.
type Fetcher struct {
	client *http.Client
}

// New builds a Fetcher whose client reuses connections across requests.
func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Fetch sends the request and returns the raw response.
func (f *Fetcher) Fetch(ctx context.Context, out *model.Outbound) (*model.Inbound, error) {
	var body io.Reader
	if out.Body != "" {
		body = strings.NewReader(out.Body)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range out.Headers {
		req.Header.Set(key, value)
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return &model.Inbound{
		Status:   resp.StatusCode,
		Headers:  headers,
		Body:     string(payload),
		Duration: time.Since(started),
	}, nil
}
