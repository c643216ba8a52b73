package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/ssrf"
)

// Result is a successfully downloaded video, ready for the probe stage.
type Result struct {
	Body     []byte
	Strategy string
}

// strategy is one fall-through download technique (spec.md §5 "Download",
// exact ordering: direct HTTP, curl, yt-dlp, headless browser, page scrape).
type strategy interface {
	name() string
	fetch(ctx context.Context, sourceURL string, headers map[string]string) ([]byte, error)
}

// Chain runs each strategy in order and returns the first candidate that
// passes looksLikeVideo. Every attempt is SSRF-validated before any network
// call, including the URLs a strategy discovers internally (e.g. the
// headless-browser and page-scrape candidates).
type Chain struct {
	ssrfPolicy   ssrf.Policy
	ssrfResolver ssrf.Resolver
	strategies   []strategy
	logger       *slog.Logger
}

// New builds the standard fall-through chain from configuration.
func New(cfg config.Config, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: 90 * time.Second}
	policy := ssrf.PolicyFromStrictAllowlist(cfg.SSRFStrictAllowlist)
	resolver := ssrf.NewResolver()
	return &Chain{
		ssrfPolicy:   policy,
		ssrfResolver: resolver,
		logger:       logger,
		strategies: []strategy{
			&directHTTPStrategy{client: httpClient},
			&curlStrategy{path: cfg.CurlPath, timeout: 90 * time.Second},
			&ytDlpStrategy{path: cfg.YtDlpPath, timeout: 120 * time.Second, impersonate: false},
			&ytDlpStrategy{path: cfg.YtDlpPath, timeout: 120 * time.Second, impersonate: true},
			newBrowserStrategy(45*time.Second, policy, resolver),
			&scrapeStrategy{client: httpClient, ssrfPolicy: policy, ssrfResolver: resolver},
		},
	}
}

// browserHeaders are the headers every direct-fetch strategy sends to look
// like a normal browser request (spec.md §5).
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":          "video/webm,video/mp4,video/*;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// Fetch runs the chain against sourceURL, returning the first candidate that
// passes the validity test. It returns a descriptive, user-actionable error
// if every strategy is exhausted.
func (c *Chain) Fetch(ctx context.Context, sourceURL string) (Result, error) {
	if err := ssrf.Validate(sourceURL, c.ssrfPolicy, c.ssrfResolver); err != nil {
		return Result{}, fmt.Errorf("op=download.fetch: %w", err)
	}

	var lastErr error
	for _, s := range c.strategies {
		body, err := s.fetch(ctx, sourceURL, browserHeaders)
		if err != nil {
			lastErr = err
			observability.RecordDownloadStrategy(s.name(), "failure")
			c.logger.Warn("download strategy failed",
				slog.String("strategy", s.name()),
				slog.Any("error", err))
			continue
		}
		if !looksLikeVideo(body) {
			lastErr = fmt.Errorf("strategy %s: payload did not look like a video", s.name())
			observability.RecordDownloadStrategy(s.name(), "rejected")
			c.logger.Warn("download strategy produced non-video payload",
				slog.String("strategy", s.name()),
				slog.Int("bytes", len(body)))
			continue
		}
		observability.RecordDownloadStrategy(s.name(), "success")
		return Result{Body: body, Strategy: s.name()}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no download strategies configured")
	}
	return Result{}, fmt.Errorf("op=download.fetch: unable to retrieve a usable video from the source URL: %w", lastErr)
}
