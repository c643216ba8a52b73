// Package platform holds the closed table of known source platforms and
// their default crop presets (spec.md §3/§6). The table is enumerable via
// the /api/v1/platforms endpoint and resolved during job submission: an
// explicit crop override always wins over the preset, and an unrecognized
// platform name falls back to the "custom" preset.
package platform

import (
	"sort"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// Custom is the fallback platform name used when the caller's declared
// platform is absent or unrecognized.
const Custom = "custom"

var presets = map[string]domain.PlatformPreset{
	"sora": {
		Name:         "sora",
		CropPixels:   120,
		CropPosition: domain.CropBottom,
	},
	"pika": {
		Name:         "pika",
		CropPixels:   50,
		CropPosition: domain.CropBottom,
	},
	"veo": {
		Name:         "veo",
		CropPixels:   64,
		CropPosition: domain.CropBottom,
	},
	"runway": {
		Name:         "runway",
		CropPixels:   80,
		CropPosition: domain.CropRight,
	},
	"kling": {
		Name:         "kling",
		CropPixels:   96,
		CropPosition: domain.CropBottom,
	},
	Custom: {
		Name:         Custom,
		CropPixels:   0,
		CropPosition: domain.CropBottom,
	},
}

// Resolve returns the preset for name, falling back to the custom preset
// when name is empty or unrecognized.
func Resolve(name string) domain.PlatformPreset {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets[Custom]
}

// List returns all known presets, sorted by platform name, for the
// /api/v1/platforms enumeration endpoint.
func List() []domain.PlatformPreset {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.PlatformPreset, 0, len(names))
	for _, name := range names {
		out = append(out, presets[name])
	}
	return out
}
