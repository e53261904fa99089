//go:build llama

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"gend/internal/common/fsutil"
	"gend/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// TextConfig describes one text model to load in-process.
type TextConfig struct {
	ModelPath string
	CtxSize   int
	Threads   int
	GPULayers int
	F16       bool
	Defaults  TextDefaults
}

// llamaEngine owns one loaded llama.cpp model.
type llamaEngine struct {
	model    *llama.LLama
	cfg      TextConfig
	log      zerolog.Logger
}

// NewLlamaEngine loads the model immediately so a bad path or incompatible
// weights fail startup rather than the first job.
func NewLlamaEngine(cfg TextConfig, log zerolog.Logger) (Engine, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if !fsutil.PathExists(cfg.ModelPath) {
		return nil, fmt.Errorf("model weights not found at %s", cfg.ModelPath)
	}
	mo := []llama.ModelOption{
		llama.SetContext(nonZero(cfg.CtxSize, 2048)),
	}
	if cfg.F16 {
		mo = append(mo, llama.EnableF16Memory)
	}
	if cfg.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(cfg.GPULayers))
	}
	m, err := llama.New(cfg.ModelPath, mo...)
	if err != nil {
		return nil, fmt.Errorf("load llama model %s: %w", cfg.ModelPath, err)
	}
	log.Info().Str("path", cfg.ModelPath).Int("ctx_size", nonZero(cfg.CtxSize, 2048)).Msg("llama model loaded")
	return &llamaEngine{model: m, cfg: cfg, log: log}, nil
}

func (e *llamaEngine) Modality() types.Modality { return types.ModalityText }

func (e *llamaEngine) Validate(raw json.RawMessage) error {
	_, err := parseTextParams(raw, e.cfg.Defaults)
	return err
}

func (e *llamaEngine) Run(ctx context.Context, raw json.RawMessage, emit EmitFunc, _ SaveFunc) (Result, error) {
	if e.model == nil {
		return Result{}, errors.New("llama model not initialized")
	}
	p, err := parseTextParams(raw, e.cfg.Defaults)
	if err != nil {
		return Result{}, err
	}

	// Bridge token streaming to the increment stream and respect cancellation.
	e.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		emit(types.Chunk(tok))
		return true
	})

	text, err := e.model.Predict(p.Prompt, predictOptions(p, e.cfg.Threads)...)
	if ctx.Err() != nil {
		return Result{FinishReason: "cancel"}, ctx.Err()
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Output: text, FinishReason: "stop"}, nil
}

func (e *llamaEngine) Close() error {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

// predictOptions converts generation parameters into go-llama.cpp options.
func predictOptions(p types.TextParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(float32(p.TopP), llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(float32(p.Temperature), llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(float32(p.RepeatPenalty), llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(int(p.Seed)))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
