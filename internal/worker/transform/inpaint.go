package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// InpaintClient calls the external AI inpaint GPU service, guarded by a
// circuit breaker so a failing backend stops accepting new attempts until it
// recovers (spec.md §2 "Transform Backend (ext.)" is out-of-scope internally
// but its client-side contract is ours to implement).
type InpaintClient struct {
	BaseURL string
	HTTP    *http.Client
	breaker *observability.CircuitBreaker
}

// NewInpaintClient builds a client with the given base URL and timeout,
// opening its circuit after 5 consecutive failures and probing again after
// 30s in the half-open state.
func NewInpaintClient(baseURL string, timeout time.Duration) *InpaintClient {
	return &InpaintClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		breaker: observability.GetCircuitBreaker("inpaint_backend:"+baseURL, 5, 30*time.Second),
	}
}

// Name identifies this backend for charging and metrics purposes.
func (c *InpaintClient) Name() string { return string(domain.ModeInpaint) }

// Transform posts input plus crop parameters to the inpaint backend and
// returns the processed bytes.
func (c *InpaintClient) Transform(ctx domain.Context, input []byte, j domain.Job, width, height int) ([]byte, error) {
	var result []byte
	err := c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/inpaint", bytes.NewReader(input))
		if err != nil {
			return fmt.Errorf("op=transform.inpaint: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Crop-Pixels", fmt.Sprintf("%d", j.CropPixels))
		req.Header.Set("X-Crop-Position", string(j.CropPosition))
		req.Header.Set("X-Width", fmt.Sprintf("%d", width))
		req.Header.Set("X-Height", fmt.Sprintf("%d", height))

		start := time.Now()
		resp, err := c.HTTP.Do(req)
		if err != nil {
			observability.RecordTransform(c.Name(), "failure", time.Since(start))
			return fmt.Errorf("op=transform.inpaint: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observability.RecordTransform(c.Name(), "failure", time.Since(start))
			return fmt.Errorf("op=transform.inpaint: backend returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			observability.RecordTransform(c.Name(), "failure", time.Since(start))
			return fmt.Errorf("op=transform.inpaint: read response: %w", err)
		}
		observability.RecordTransform(c.Name(), "success", time.Since(start))
		result = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reachable reports whether the circuit is currently accepting calls,
// consulted by the pipeline's mode==auto fall-through decision.
func (c *InpaintClient) Reachable() bool {
	return !c.breaker.IsOpen()
}
