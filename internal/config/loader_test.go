package config

import (
	"os"
	"path/filepath"
	"testing"

	"gend/pkg/types"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const tomlConfig = `[server]
addr = ":9999"
log_level = "debug"

[store]
driver = "memory"

[scheduler]
checkpoint_interval_ms = 500

[[models]]
id = "tiny"
modality = "text"
path = "/models/tiny.gguf"
ctx_size = 2048

[[models]]
id = "sd15"
modality = "image"
path = "/models/sd15.safetensors"
runner = "sd"

[models.defaults]
steps = 20
`

func TestLoadTOML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.toml", tomlConfig)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Server.LogLevel != "debug" {
		t.Fatalf("unexpected server cfg: %+v", cfg.Server)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected store cfg: %+v", cfg.Store)
	}
	if cfg.Scheduler.CheckpointIntervalMS != 500 {
		t.Fatalf("unexpected scheduler cfg: %+v", cfg.Scheduler)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("want 2 models, got %+v", cfg.Models)
	}
	if cfg.Models[0].ID != "tiny" || cfg.Models[0].Modality != types.ModalityText || cfg.Models[0].CtxSize != 2048 {
		t.Fatalf("unexpected model[0]: %+v", cfg.Models[0])
	}
	if cfg.Models[1].Runner != "sd" || cfg.Models[1].Defaults.Steps != 20 {
		t.Fatalf("unexpected model[1]: %+v", cfg.Models[1])
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", `
server:
  addr: ":7070"
store:
  driver: memory
models:
  - id: tiny
    modality: text
    path: /models/tiny.gguf
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" || cfg.Models[0].ID != "tiny" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json",
		`{"store":{"driver":"memory"},"models":[{"id":"tiny","modality":"text","path":"/models/tiny.gguf"}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models[0].Path != "/models/tiny.gguf" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json",
		`{"store":{"driver":"memory"},"models":[{"id":"tiny","modality":"text","path":"/m.gguf"}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8085" {
		t.Fatalf("Addr default = %q", cfg.Server.Addr)
	}
	if cfg.Scheduler.CheckpointIntervalMS != 2000 || cfg.Scheduler.StoreRetryMax != 3 {
		t.Fatalf("scheduler defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.CheckpointInterval().Milliseconds() != 2000 {
		t.Fatalf("CheckpointInterval = %v", cfg.Scheduler.CheckpointInterval())
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("GEND_ADDR", ":1234")
	t.Setenv("GEND_STORE_DSN", "postgres://u:p@db/gend")
	t.Setenv("GEND_STORE_DRIVER", "postgres")
	p := writeTempFile(t, t.TempDir(), "cfg.json",
		`{"store":{"driver":"memory"},"models":[{"id":"tiny","modality":"text","path":"/m.gguf"}]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":1234" {
		t.Fatalf("env addr not applied: %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://u:p@db/gend" {
		t.Fatalf("env store not applied: %+v", cfg.Store)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	d := t.TempDir()
	if _, err := Load(writeTempFile(t, d, "cfg.txt", "not supported")); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load(writeTempFile(t, d, "bad.yaml", "server: :8080\n: broken\n")); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
	if _, err := Load(writeTempFile(t, d, "bad.json", `{ "server": }`)); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
	if _, err := Load(writeTempFile(t, d, "bad.toml", "addr=:8080\nmodels_dir\n")); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}
