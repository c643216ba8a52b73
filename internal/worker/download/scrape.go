package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/fairyhunter13/watermark-removal/internal/ssrf"
)

// videoURLPatterns extract candidate video URLs from raw HTML, most specific
// first: JSON string fields, <video>/<source> tags, data-* attributes, and
// finally bare mp4 URLs anywhere in the document (spec.md §5, strategy 5,
// the last-resort page scrape).
var videoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"(?:video_url|videoUrl|contentUrl|playUrl|url)"\s*:\s*"([^"]+\.(?:mp4|webm|mov)[^"]*)"`),
	regexp.MustCompile(`<video[^>]*\ssrc=["']([^"']+)["']`),
	regexp.MustCompile(`<source[^>]*\ssrc=["']([^"']+)["']`),
	regexp.MustCompile(`data-(?:video-src|src|url)=["']([^"']+\.(?:mp4|webm|mov)[^"']*)["']`),
	regexp.MustCompile(`https?://[^\s"'<>]+\.mp4[^\s"'<>]*`),
}

// scrapeStrategy fetches the page HTML and tries each extracted URL in turn
// (spec.md §5, strategy 5).
type scrapeStrategy struct {
	client       *http.Client
	ssrfPolicy   ssrf.Policy
	ssrfResolver ssrf.Resolver
}

func (s *scrapeStrategy) name() string { return "page_scrape" }

func (s *scrapeStrategy) fetch(ctx context.Context, sourceURL string, headers map[string]string) ([]byte, error) {
	html, err := s.fetchHTML(ctx, sourceURL, headers)
	if err != nil {
		return nil, fmt.Errorf("op=download.page_scrape: %w", err)
	}

	for _, candidate := range extractCandidateURLs(string(html), sourceURL) {
		if err := ssrf.Validate(candidate, s.ssrfPolicy, s.ssrfResolver); err != nil {
			continue
		}
		body, err := s.fetchHTML(ctx, candidate, headers)
		if err != nil {
			continue
		}
		if looksLikeVideo(body) {
			return body, nil
		}
	}
	return nil, fmt.Errorf("op=download.page_scrape: no candidate URL yielded a valid video")
}

func (s *scrapeStrategy) fetchHTML(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<30))
}

// extractCandidateURLs walks videoURLPatterns in priority order, deduping as
// it goes, returning an ordered, unique list of candidate URLs.
func extractCandidateURLs(html, pageURL string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range videoURLPatterns {
		for _, m := range pattern.FindAllStringSubmatch(html, -1) {
			candidate := m[len(m)-1]
			if candidate == "" {
				continue
			}
			if _, dup := seen[candidate]; dup {
				continue
			}
			seen[candidate] = struct{}{}
			out = append(out, candidate)
		}
	}
	return out
}
