package download

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// curlStrategy shells out to an external curl-class binary with the same
// browser headers and redirect-follow behavior as directHTTPStrategy
// (spec.md §5, strategy 2) — useful when the remote host fingerprints Go's
// net/http client differently than a real browser or curl.
type curlStrategy struct {
	path    string
	timeout time.Duration
}

func (s *curlStrategy) name() string { return "curl" }

func (s *curlStrategy) fetch(ctx context.Context, sourceURL string, headers map[string]string) ([]byte, error) {
	path := s.path
	if path == "" {
		path = "curl"
	}
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-sS", "-L", "--max-time", fmt.Sprintf("%.0f", timeout.Seconds())}
	for k, v := range headers {
		args = append(args, "-H", fmt.Sprintf("%s: %s", k, v))
	}
	args = append(args, sourceURL)

	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("op=download.curl: %w", err)
	}
	if len(out) < minValidBytes {
		return nil, fmt.Errorf("op=download.curl: output too small (%d bytes)", len(out))
	}
	return out, nil
}
