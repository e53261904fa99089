// Package config loads and validates the daemon configuration. A config file
// (TOML, YAML or JSON by extension) declares the server, the job store, the
// scheduler tunables and the fixed set of models; a few environment variables
// overlay the file so deployments can keep secrets out of it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gend/internal/common/fsutil"
	"gend/pkg/types"
)

// Config holds all runtime parameters for the daemon.
type Config struct {
	Server    Server    `json:"server" yaml:"server" toml:"server"`
	Store     Store     `json:"store" yaml:"store" toml:"store"`
	Scheduler Scheduler `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Models    []Model   `json:"models" yaml:"models" toml:"models"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// CORSOrigins enables CORS for the listed origins; empty disables it.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Store selects and configures the job store driver.
type Store struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// Scheduler tunes job execution. Durations are plain integers with the unit
// in the field name so all three config formats parse them the same way.
type Scheduler struct {
	// CheckpointIntervalMS bounds how much streamed output a crash can lose:
	// running jobs persist their partial output at this cadence.
	CheckpointIntervalMS int `json:"checkpoint_interval_ms" yaml:"checkpoint_interval_ms" toml:"checkpoint_interval_ms"`
	// StoreRetryMax and StoreRetryBackoffMS bound the final-write retry loop
	// when the store is unavailable at job completion.
	StoreRetryMax       int `json:"store_retry_max" yaml:"store_retry_max" toml:"store_retry_max"`
	StoreRetryBackoffMS int `json:"store_retry_backoff_ms" yaml:"store_retry_backoff_ms" toml:"store_retry_backoff_ms"`
	// QueueDepth caps each model's wait list; submissions beyond it are
	// rejected with 429.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	// SubscriberBuffer is the per-subscriber increment buffer; the oldest
	// increments are dropped when a slow consumer falls this far behind.
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer" toml:"subscriber_buffer"`
	// DrainTimeoutS caps graceful shutdown.
	DrainTimeoutS int `json:"drain_timeout_s" yaml:"drain_timeout_s" toml:"drain_timeout_s"`
}

// CheckpointInterval returns the checkpoint cadence as a duration.
func (s Scheduler) CheckpointInterval() time.Duration {
	return time.Duration(s.CheckpointIntervalMS) * time.Millisecond
}

// StoreRetryBackoff returns the retry backoff as a duration.
func (s Scheduler) StoreRetryBackoff() time.Duration {
	return time.Duration(s.StoreRetryBackoffMS) * time.Millisecond
}

// DrainTimeout returns the shutdown budget as a duration.
func (s Scheduler) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutS) * time.Second
}

// Model declares one model the daemon serves. The set is fixed for the
// lifetime of the process; every model is loaded at startup.
type Model struct {
	ID          string         `json:"id" yaml:"id" toml:"id"`
	Modality    types.Modality `json:"modality" yaml:"modality" toml:"modality"`
	Description string         `json:"description" yaml:"description" toml:"description"`
	Path        string         `json:"path" yaml:"path" toml:"path"`

	// Text model load parameters.
	CtxSize   int  `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads   int  `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers int  `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	F16       bool `json:"f16" yaml:"f16" toml:"f16"`

	// Image model runner parameters.
	Runner    string   `json:"runner" yaml:"runner" toml:"runner"`
	Sampler   string   `json:"sampler" yaml:"sampler" toml:"sampler"`
	ExtraArgs []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`

	Defaults Defaults `json:"defaults" yaml:"defaults" toml:"defaults"`
}

// Defaults are per-model fallbacks applied to omitted request parameters.
type Defaults struct {
	MaxTokens     int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`

	Width         int     `json:"width" yaml:"width" toml:"width"`
	Height        int     `json:"height" yaml:"height" toml:"height"`
	Steps         int     `json:"steps" yaml:"steps" toml:"steps"`
	GuidanceScale float64 `json:"guidance_scale" yaml:"guidance_scale" toml:"guidance_scale"`
}

// Desc converts the config entry to its API descriptor.
func (m Model) Desc() types.ModelDesc {
	return types.ModelDesc{ID: m.ID, Modality: m.Modality, Description: m.Description}
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "console"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = "gend.db"
	}
	if c.Scheduler.CheckpointIntervalMS <= 0 {
		c.Scheduler.CheckpointIntervalMS = 2000
	}
	if c.Scheduler.StoreRetryMax <= 0 {
		c.Scheduler.StoreRetryMax = 3
	}
	if c.Scheduler.StoreRetryBackoffMS <= 0 {
		c.Scheduler.StoreRetryBackoffMS = 250
	}
	if c.Scheduler.QueueDepth <= 0 {
		c.Scheduler.QueueDepth = 64
	}
	if c.Scheduler.SubscriberBuffer <= 0 {
		c.Scheduler.SubscriberBuffer = 64
	}
	if c.Scheduler.DrainTimeoutS <= 0 {
		c.Scheduler.DrainTimeoutS = 10
	}
}

// ApplyEnv overlays environment variables onto the config so secrets and
// per-host settings can stay out of the file.
func (c *Config) ApplyEnv() {
	c.Server.Addr = getEnv("GEND_ADDR", c.Server.Addr)
	c.Server.LogLevel = getEnv("GEND_LOG_LEVEL", c.Server.LogLevel)
	c.Server.LogFormat = getEnv("GEND_LOG_FORMAT", c.Server.LogFormat)
	c.Store.Driver = getEnv("GEND_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("GEND_STORE_DSN", c.Store.DSN)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Validate rejects configurations the daemon cannot serve. It runs after
// SetDefaults and ApplyEnv.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
	}
	switch c.Server.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("server.log_format %q is not one of json, console", c.Server.LogFormat)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("models[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if !m.Modality.Valid() {
			return fmt.Errorf("model %q: modality %q is not one of text, image", m.ID, m.Modality)
		}
		if strings.TrimSpace(m.Path) == "" {
			return fmt.Errorf("model %q: path is required", m.ID)
		}
		if m.Modality == types.ModalityImage && strings.TrimSpace(m.Runner) == "" {
			return fmt.Errorf("model %q: image models need a runner binary", m.ID)
		}
	}
	return nil
}

// Normalize expands '~' in filesystem paths so the rest of the daemon only
// sees absolute-ish paths.
func (c *Config) Normalize() error {
	for i := range c.Models {
		p, err := fsutil.ExpandHome(c.Models[i].Path)
		if err != nil {
			return fmt.Errorf("model %q: %w", c.Models[i].ID, err)
		}
		c.Models[i].Path = p
	}
	if c.Store.Driver == "sqlite" {
		p, err := fsutil.ExpandHome(c.Store.DSN)
		if err != nil {
			return fmt.Errorf("store.dsn: %w", err)
		}
		c.Store.DSN = p
	}
	return nil
}
