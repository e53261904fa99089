package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"gend/pkg/types"
)

// Fallbacks used when a model's config leaves a default unset.
const (
	defaultMaxTokens  = 128
	defaultImageSize  = 512
	defaultImageSteps = 15
	defaultGuidance   = 7.5

	maxImageSamples = 8
	minImageSide    = 64
	maxImageSide    = 2048
	maxImageSteps   = 150
)

// TextDefaults are per-model fallbacks for omitted text parameters.
type TextDefaults struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

// ImageDefaults are per-model fallbacks for omitted image parameters.
type ImageDefaults struct {
	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
}

func parseTextParams(raw json.RawMessage, d TextDefaults) (types.TextParams, error) {
	var p types.TextParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("malformed text parameters: %w", err)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return p, fmt.Errorf("prompt is required")
	}
	if p.MaxTokens < 0 {
		return p, fmt.Errorf("max_tokens must not be negative")
	}
	if p.Temperature < 0 {
		return p, fmt.Errorf("temperature must not be negative")
	}
	if p.TopP < 0 || p.TopP > 1 {
		return p, fmt.Errorf("top_p must be within [0,1]")
	}
	if p.TopK < 0 {
		return p, fmt.Errorf("top_k must not be negative")
	}
	if p.RepeatPenalty < 0 {
		return p, fmt.Errorf("repeat_penalty must not be negative")
	}
	if p.MaxTokens == 0 {
		if d.MaxTokens > 0 {
			p.MaxTokens = d.MaxTokens
		} else {
			p.MaxTokens = defaultMaxTokens
		}
	}
	if p.Temperature == 0 {
		p.Temperature = d.Temperature
	}
	if p.TopP == 0 {
		p.TopP = d.TopP
	}
	if p.TopK == 0 {
		p.TopK = d.TopK
	}
	if p.RepeatPenalty == 0 {
		p.RepeatPenalty = d.RepeatPenalty
	}
	return p, nil
}

func parseImageParams(raw json.RawMessage, d ImageDefaults) (types.ImageParams, error) {
	var p types.ImageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("malformed image parameters: %w", err)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return p, fmt.Errorf("prompt is required")
	}
	if p.Width == 0 {
		p.Width = nonZero(d.Width, defaultImageSize)
	}
	if p.Height == 0 {
		p.Height = nonZero(d.Height, defaultImageSize)
	}
	if p.Steps == 0 {
		p.Steps = nonZero(d.Steps, defaultImageSteps)
	}
	if p.GuidanceScale == 0 {
		p.GuidanceScale = d.GuidanceScale
		if p.GuidanceScale == 0 {
			p.GuidanceScale = defaultGuidance
		}
	}
	if p.NumSamples == 0 {
		p.NumSamples = 1
	}
	for _, side := range [2]int{p.Width, p.Height} {
		if side < minImageSide || side > maxImageSide {
			return p, fmt.Errorf("width and height must be within [%d,%d]", minImageSide, maxImageSide)
		}
		if side%8 != 0 {
			return p, fmt.Errorf("width and height must be multiples of 8")
		}
	}
	if p.Steps < 1 || p.Steps > maxImageSteps {
		return p, fmt.Errorf("steps must be within [1,%d]", maxImageSteps)
	}
	if p.GuidanceScale < 0 {
		return p, fmt.Errorf("guidance_scale must not be negative")
	}
	if p.NumSamples < 1 || p.NumSamples > maxImageSamples {
		return p, fmt.Errorf("num_samples must be within [1,%d]", maxImageSamples)
	}
	return p, nil
}

func nonZero(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
