package dezgo

import "strings"

// Guidance bounds per model family.
const (
	lightningGuidance = 1.0
	sdxlMinGuidance   = 1.0
	minGuidance       = 0.0
	maxGuidance       = 20.0
)

// guidanceFor shapes the caller's guidance for a model.
// Lightning variants are distilled for guidance 1 and ignore the caller.
// SDXL-family models degrade below 1.
func guidanceFor(model string, requested float64) float64 {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "lightning"):
		return lightningGuidance
	case isSDXL(name):
		return clamp(requested, sdxlMinGuidance, maxGuidance)
	default:
		return clamp(requested, minGuidance, maxGuidance)
	}
}

func isSDXL(name string) bool {
	return strings.Contains(name, "sdxl") || strings.Contains(name, "xl_") || strings.HasSuffix(name, "xl")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
