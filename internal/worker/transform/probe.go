// Package transform implements the crop and AI-inpaint watermark-removal
// backends, plus the ffprobe-based media probe that precedes them.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// MediaInfo is the subset of ffprobe's output the pipeline needs.
type MediaInfo struct {
	Width      int
	Height     int
	DurationS  float64
	FormatName string
}

// Prober runs an external media-toolchain probe (ffprobe) against a file on
// disk and extracts width, height, and duration (spec.md §5 "Probe").
type Prober struct {
	FFprobePath string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe writes body to a temp file under scratchDir and runs ffprobe against
// it, returning the first video stream's dimensions and the container
// duration.
func (p *Prober) Probe(ctx context.Context, scratchDir string, body []byte) (MediaInfo, error) {
	path := scratchDir + "/probe_input"
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return MediaInfo{}, fmt.Errorf("op=transform.probe: write scratch file: %w", err)
	}
	defer func() { _ = os.Remove(path) }()

	path2 := p.ffprobePath()
	cmd := exec.CommandContext(ctx, path2,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return MediaInfo{}, fmt.Errorf("op=transform.probe: ffprobe failed: %w: %s", err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return MediaInfo{}, fmt.Errorf("op=transform.probe: decode ffprobe output: %w", err)
	}

	info := MediaInfo{FormatName: out.Format.FormatName}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	if info.Width == 0 || info.Height == 0 {
		return MediaInfo{}, fmt.Errorf("op=transform.probe: no video stream found")
	}
	if out.Format.Duration != "" {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			info.DurationS = d
		}
	}
	return info, nil
}

func (p *Prober) ffprobePath() string {
	if p.FFprobePath == "" {
		return "ffprobe"
	}
	return p.FFprobePath
}

// RecognizedContainer reports whether formatName names one of the three
// containers this service accepts (spec.md §5 "Probe").
func RecognizedContainer(formatName string) bool {
	formatName = strings.ToLower(formatName)
	for _, want := range []string{"mp4", "mov", "m4a", "webm", "matroska", "quicktime"} {
		if strings.Contains(formatName, want) {
			return true
		}
	}
	return false
}
