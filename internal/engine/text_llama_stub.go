//go:build !llama

package engine

// No-CGO stub compiled when the 'llama' build tag is NOT set, keeping default
// builds and CI CGO-free. The real engine lives in text_llama.go (tagged
// 'llama'). Configuring a text model into a stub build fails at startup; no
// mocked inference ever runs in production binaries.

import (
	"github.com/rs/zerolog"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

// TextConfig describes one text model to load in-process.
type TextConfig struct {
	ModelPath string
	CtxSize   int
	Threads   int
	GPULayers int
	F16       bool
	Defaults  TextDefaults
}

// NewLlamaEngine fails fast: the llama runtime is not available in this build.
func NewLlamaEngine(cfg TextConfig, log zerolog.Logger) (Engine, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
