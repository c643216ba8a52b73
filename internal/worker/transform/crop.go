package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// Cropper runs an external media-toolchain encoder (ffmpeg) to remove a
// rectangular band from every frame, leaving the audio stream untouched
// (spec.md §5 "Transform", crop mode).
type Cropper struct {
	FFmpegPath string
}

// Name identifies this backend for charging and metrics purposes.
func (c *Cropper) Name() string { return string(domain.ModeCrop) }

// CropFilter computes the ffmpeg crop filter string for (width, height,
// cropPixels, cropPosition), matching the geometry spec.md §5 defines:
//   - bottom: keep rows [0, height-cropPixels)
//   - top:    keep rows [cropPixels, height)
//   - left:   keep columns [cropPixels, width)
//   - right:  keep columns [0, width-cropPixels)
//
// crop_pixels=0 is the identity crop (output equals input dimensions).
func CropFilter(width, height, cropPixels int, position domain.CropPosition) string {
	switch position {
	case domain.CropTop:
		return fmt.Sprintf("crop=%d:%d:0:%d", width, height-cropPixels, cropPixels)
	case domain.CropLeft:
		return fmt.Sprintf("crop=%d:%d:%d:0", width-cropPixels, height, cropPixels)
	case domain.CropRight:
		return fmt.Sprintf("crop=%d:%d:0:0", width-cropPixels, height)
	default: // domain.CropBottom
		return fmt.Sprintf("crop=%d:%d:0:0", width, height-cropPixels)
	}
}

// Transform applies the crop filter to input and returns the re-encoded
// bytes. Width/height are the probed source dimensions. It satisfies
// domain.TransformBackend, managing its own scratch files so concurrent job
// handlers never share state.
func (c *Cropper) Transform(ctx context.Context, input []byte, j domain.Job, width, height int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "watermark-crop-*")
	if err != nil {
		return nil, fmt.Errorf("op=transform.crop: create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	inPath := dir + "/input"
	outPath := dir + "/output.mp4"
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("op=transform.crop: write scratch input: %w", err)
	}

	filter := CropFilter(width, height, j.CropPixels, j.CropPosition)

	path := c.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, path,
		"-y",
		"-i", inPath,
		"-vf", filter,
		"-c:a", "copy",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("op=transform.crop: ffmpeg failed: %w: %s", err, stderr.String())
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("op=transform.crop: read output: %w", err)
	}
	return out, nil
}
