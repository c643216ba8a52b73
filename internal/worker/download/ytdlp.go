package download

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ytDlpStrategy shells out to an external yt-dlp-class video extractor,
// streaming the best available format to stdout (spec.md §5, strategy 3).
// The chain tries this strategy twice: once without site impersonation, once
// with (--impersonate chrome), since some sources only serve yt-dlp when it
// presents as a real browser's TLS/HTTP fingerprint.
type ytDlpStrategy struct {
	path        string
	timeout     time.Duration
	impersonate bool
}

func (s *ytDlpStrategy) name() string {
	if s.impersonate {
		return "yt_dlp_impersonate"
	}
	return "yt_dlp"
}

func (s *ytDlpStrategy) fetch(ctx context.Context, sourceURL string, _ map[string]string) ([]byte, error) {
	path := s.path
	if path == "" {
		path = "yt-dlp"
	}
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"--no-playlist", "--no-warnings", "-f", "best", "-o", "-", sourceURL}
	if s.impersonate {
		args = append([]string{"--impersonate", "chrome"}, args...)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("op=download.%s: %w: %s", s.name(), err, stderr.String())
	}
	if stdout.Len() < minValidBytes {
		return nil, fmt.Errorf("op=download.%s: output too small (%d bytes)", s.name(), stdout.Len())
	}
	return stdout.Bytes(), nil
}
