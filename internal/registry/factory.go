package registry

import (
	"fmt"

	"github.com/rs/zerolog"

	"gend/internal/config"
	"gend/internal/engine"
)

// DefaultFactory builds real engines from model config: llama.cpp in-process
// for text, the external sd runner for images.
func DefaultFactory(m config.Model, log zerolog.Logger) (engine.Engine, error) {
	switch m.Modality {
	case "text":
		return engine.NewLlamaEngine(engine.TextConfig{
			ModelPath: m.Path,
			CtxSize:   m.CtxSize,
			Threads:   m.Threads,
			GPULayers: m.GPULayers,
			F16:       m.F16,
			Defaults: engine.TextDefaults{
				MaxTokens:     m.Defaults.MaxTokens,
				Temperature:   m.Defaults.Temperature,
				TopP:          m.Defaults.TopP,
				TopK:          m.Defaults.TopK,
				RepeatPenalty: m.Defaults.RepeatPenalty,
			},
		}, log)
	case "image":
		return engine.NewSDEngine(engine.ImageConfig{
			RunnerBin: m.Runner,
			ModelPath: m.Path,
			Sampler:   m.Sampler,
			Threads:   m.Threads,
			ExtraArgs: m.ExtraArgs,
			Defaults: engine.ImageDefaults{
				Width:         m.Defaults.Width,
				Height:        m.Defaults.Height,
				Steps:         m.Defaults.Steps,
				GuidanceScale: m.Defaults.GuidanceScale,
			},
		}, log)
	default:
		return nil, fmt.Errorf("modality %q has no engine", m.Modality)
	}
}
