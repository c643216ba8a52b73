package download

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/fairyhunter13/watermark-removal/internal/ssrf"
)

// videoURLHints are substrings in a response URL that suggest video content
// even when the content-type header is missing or generic.
var videoURLHints = []string{".mp4", ".webm", ".mov", "video/", "videoplayback"}

// browserCandidate is one network response or DOM-sourced URL discovered
// while the page was loaded headlessly.
type browserCandidate struct {
	url           string
	contentLength int64
}

// browserStrategy drives a headless Chrome instance to load the page,
// observing network responses and the DOM for video URLs (spec.md §5,
// strategy 4). Candidates are sorted by content-length descending and
// fetched in turn with the page's Referer/Origin headers.
type browserStrategy struct {
	timeout      time.Duration
	httpClient   *http.Client
	ssrfPolicy   ssrf.Policy
	ssrfResolver ssrf.Resolver
}

func newBrowserStrategy(timeout time.Duration, policy ssrf.Policy, resolver ssrf.Resolver) *browserStrategy {
	return &browserStrategy{
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		ssrfPolicy:   policy,
		ssrfResolver: resolver,
	}
}

func (s *browserStrategy) name() string { return "headless_browser" }

func (s *browserStrategy) fetch(ctx context.Context, sourceURL string, headers map[string]string) ([]byte, error) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, timeout)
	defer cancelTimeout()

	var mu sync.Mutex
	candidates := make(map[string]int64)

	chromedp.ListenTarget(browserCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		u := resp.Response.URL
		ct := strings.ToLower(resp.Response.MimeType)
		if !strings.Contains(ct, "video") && !urlLooksLikeVideo(u) {
			return
		}
		mu.Lock()
		candidates[u] = int64(resp.Response.EncodedDataLength)
		mu.Unlock()
	})

	var domSrc, domCurrentSrc string
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(sourceURL),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(`(function(){var v=document.querySelector('video'); return v ? (v.src||'') : '';})()`, &domSrc),
		chromedp.Evaluate(`(function(){var v=document.querySelector('video'); return v ? (v.currentSrc||'') : '';})()`, &domCurrentSrc),
	)
	if err != nil {
		return nil, fmt.Errorf("op=download.headless_browser: %w", err)
	}

	mu.Lock()
	if domSrc != "" {
		if _, ok := candidates[domSrc]; !ok {
			candidates[domSrc] = 0
		}
	}
	if domCurrentSrc != "" {
		if _, ok := candidates[domCurrentSrc]; !ok {
			candidates[domCurrentSrc] = 0
		}
	}
	ordered := make([]browserCandidate, 0, len(candidates))
	for u, length := range candidates {
		ordered = append(ordered, browserCandidate{url: u, contentLength: length})
	}
	mu.Unlock()

	if len(ordered) == 0 {
		return nil, fmt.Errorf("op=download.headless_browser: no video candidates observed")
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].contentLength > ordered[j].contentLength })

	body, err := s.fetchFirstValidCandidate(ctx, ordered, sourceURL, headers)
	if err != nil {
		return nil, fmt.Errorf("op=download.headless_browser: %w", err)
	}
	return body, nil
}

// fetchFirstValidCandidate tries ordered candidates in turn, SSRF-validating
// each one before any network call — a page-discovered candidate (network
// intercept or DOM src/currentSrc) is as untrusted as an extracted scrape
// candidate (scrape.go) and must clear the same gate.
func (s *browserStrategy) fetchFirstValidCandidate(ctx context.Context, ordered []browserCandidate, sourceURL string, headers map[string]string) ([]byte, error) {
	origin := pageOrigin(sourceURL)
	var lastErr error
	for _, c := range ordered {
		if err := ssrf.Validate(c.url, s.ssrfPolicy, s.ssrfResolver); err != nil {
			lastErr = err
			continue
		}
		body, err := s.fetchCandidate(ctx, c.url, sourceURL, origin, headers)
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all candidates failed validation")
	}
	return nil, lastErr
}

func (s *browserStrategy) fetchCandidate(ctx context.Context, candidateURL, referer, origin string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidateURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Referer", referer)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body := make([]byte, 0, 1<<20)
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if rerr != nil {
			break
		}
		if len(body) > 2<<30 {
			break
		}
	}
	return body, nil
}

func urlLooksLikeVideo(u string) bool {
	lower := strings.ToLower(u)
	for _, hint := range videoURLHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func pageOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
