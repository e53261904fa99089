package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"gend/internal/common/fsutil"
	"gend/pkg/types"
)

// ImageConfig describes one diffusion model served through an external
// stable-diffusion.cpp style CLI runner. The daemon never links diffusion
// code; it drives the runner binary, one invocation per sample.
type ImageConfig struct {
	RunnerBin string
	ModelPath string
	Sampler   string
	Threads   int
	ExtraArgs []string
	Defaults  ImageDefaults
}

type sdEngine struct {
	cfg ImageConfig
	bin string
	log zerolog.Logger
}

// NewSDEngine resolves the runner binary and stats the weights up front so a
// misconfigured image model fails startup, not the first job.
func NewSDEngine(cfg ImageConfig, log zerolog.Logger) (Engine, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if !fsutil.PathExists(cfg.ModelPath) {
		return nil, fmt.Errorf("image model weights not found at %s", cfg.ModelPath)
	}
	if strings.TrimSpace(cfg.RunnerBin) == "" {
		return nil, errors.New("runner binary is empty")
	}
	bin, err := exec.LookPath(cfg.RunnerBin)
	if err != nil {
		return nil, fmt.Errorf("image runner %q: %w", cfg.RunnerBin, err)
	}
	log.Info().Str("runner", bin).Str("path", cfg.ModelPath).Msg("image runner resolved")
	return &sdEngine{cfg: cfg, bin: bin, log: log}, nil
}

func (e *sdEngine) Modality() types.Modality { return types.ModalityImage }

func (e *sdEngine) Validate(raw json.RawMessage) error {
	_, err := parseImageParams(raw, e.cfg.Defaults)
	return err
}

func (e *sdEngine) Run(ctx context.Context, raw json.RawMessage, emit EmitFunc, save SaveFunc) (Result, error) {
	p, err := parseImageParams(raw, e.cfg.Defaults)
	if err != nil {
		return Result{}, err
	}
	outDir, err := os.MkdirTemp("", "gend-sd-*")
	if err != nil {
		return Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	for sample := 1; sample <= p.NumSamples; sample++ {
		if ctx.Err() != nil {
			return Result{FinishReason: "cancel"}, ctx.Err()
		}
		seed := p.Seed
		if seed == 0 {
			seed = rand.Int63()
		} else {
			seed += int64(sample - 1)
		}
		outFile := filepath.Join(outDir, fmt.Sprintf("sample-%d.png", sample))
		emit(types.Progress(sample, 0, p.Steps, overallPercent(sample, 0, p)))
		if err := e.runSample(ctx, p, sample, seed, outFile, emit); err != nil {
			if ctx.Err() != nil {
				return Result{FinishReason: "cancel"}, ctx.Err()
			}
			return Result{}, err
		}
		data, err := os.ReadFile(outFile)
		if err != nil {
			return Result{}, fmt.Errorf("runner produced no output for sample %d: %w", sample, err)
		}
		if err := save(ctx, "image/png", data); err != nil {
			return Result{}, err
		}
	}
	return Result{FinishReason: "stop"}, nil
}

func (e *sdEngine) Close() error { return nil }

// runSample drives one runner invocation and relays its step progress.
func (e *sdEngine) runSample(ctx context.Context, p types.ImageParams, sample int, seed int64, outFile string, emit EmitFunc) error {
	args := []string{
		"-m", e.cfg.ModelPath,
		"-p", p.Prompt,
		"-W", strconv.Itoa(p.Width),
		"-H", strconv.Itoa(p.Height),
		"--steps", strconv.Itoa(p.Steps),
		"--cfg-scale", strconv.FormatFloat(p.GuidanceScale, 'f', -1, 64),
		"-s", strconv.FormatInt(seed, 10),
		"-o", outFile,
	}
	if p.NegativePrompt != "" {
		args = append(args, "-n", p.NegativePrompt)
	}
	if e.cfg.Sampler != "" {
		args = append(args, "--sampling-method", e.cfg.Sampler)
	}
	if e.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.cfg.Threads))
	}
	args = append(args, e.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, e.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start image runner: %w", err)
	}
	e.log.Debug().Int("sample", sample).Int64("seed", seed).Int("pid", cmd.Process.Pid).Msg("image runner started")

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		step, total, ok := parseStepLine(sc.Text())
		// Runners also print load progress as k/n pairs; only lines whose
		// total matches the requested step count are sampling progress.
		if !ok || total != p.Steps {
			continue
		}
		emit(types.Progress(sample, step, p.Steps, overallPercent(sample, step, p)))
	}
	werr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if werr != nil {
		return fmt.Errorf("image runner exited: %w; stderr tail: %s", werr, tailOf(&stderr, 4096))
	}
	return nil
}

var stepRe = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// parseStepLine extracts a k/n progress pair from one line of runner output.
func parseStepLine(line string) (step, total int, ok bool) {
	m := stepRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	step, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || total <= 0 || step < 0 || step > total {
		return 0, 0, false
	}
	return step, total, true
}

func overallPercent(sample, step int, p types.ImageParams) float64 {
	done := float64(sample-1) + float64(step)/float64(p.Steps)
	return 100 * done / float64(p.NumSamples)
}

func tailOf(b *bytes.Buffer, n int) string {
	s := b.String()
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return strings.TrimSpace(s)
}
