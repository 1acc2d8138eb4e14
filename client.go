package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	requestTimeout = 30 * time.Second
	probePath      = "/employees"
)

// upstreamClient owns the pooled, authenticated HTTP connection to the
// employee API for the whole process lifetime. It is safe for concurrent use
// and never mutated after startup.
type upstreamClient struct {
	httpClient *http.Client
	baseURL    string
}

// authTransport injects the bearer token and JSON content type into every
// outbound request.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	if clone.Header.Get("Content-Type") == "" {
		clone.Header.Set("Content-Type", "application/json")
	}
	return t.base.RoundTrip(clone)
}

func newUpstreamClient(baseURL, token string) *upstreamClient {
	return &upstreamClient{
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: &authTransport{token: token, base: http.DefaultTransport},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *upstreamClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// probe performs the read-only reachability check shared by the startup
// smoke test and the health route.
func (c *upstreamClient) probe(ctx context.Context) error {
	query := url.Values{"filter[employee_visibility]": []string{"all"}}
	resp, err := c.do(ctx, http.MethodGet, probePath, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// close releases idle pooled connections. Safe on a nil receiver so shutdown
// can run after a partial startup.
func (c *upstreamClient) close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
	log.Printf("<client> HTTP client closed")
}
