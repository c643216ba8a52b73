package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// directHTTPStrategy performs a plain HTTP GET with browser-like headers,
// following redirects, and accepts the body only when the response
// content-type is not HTML and the payload clears the minimum size
// (spec.md §5, strategy 1).
type directHTTPStrategy struct {
	client *http.Client
}

func (s *directHTTPStrategy) name() string { return "direct_http" }

func (s *directHTTPStrategy) fetch(ctx context.Context, sourceURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("op=download.direct_http: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=download.direct_http: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=download.direct_http: status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("op=download.direct_http: response content-type is html")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<30)) // 2GiB ceiling
	if err != nil {
		return nil, fmt.Errorf("op=download.direct_http: %w", err)
	}
	if len(body) < minValidBytes {
		return nil, fmt.Errorf("op=download.direct_http: response too small (%d bytes)", len(body))
	}
	return body, nil
}
