// Package registry holds the fixed set of models the daemon serves. Every
// configured model is loaded when the registry is built; a model that cannot
// load fails startup. The registry is read-only afterwards, so lookups need
// no locking.
package registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gend/internal/config"
	"gend/internal/engine"
	"gend/pkg/types"
)

// Handle pairs a model descriptor with its loaded engine.
type Handle struct {
	Desc   types.ModelDesc
	Engine engine.Engine
}

// EngineFactory builds the engine for one configured model. Injected so
// tests run without weights or runtimes on disk.
type EngineFactory func(m config.Model, log zerolog.Logger) (engine.Engine, error)

// Registry maps model ids to their handles.
type Registry struct {
	handles map[string]*Handle
	order   []string
}

// New loads every configured model through factory. Any failure closes the
// engines already built and returns the error; the daemon must not come up
// half-loaded.
func New(models []config.Model, factory EngineFactory, log zerolog.Logger) (*Registry, error) {
	r := &Registry{handles: make(map[string]*Handle, len(models))}
	for _, m := range models {
		if _, dup := r.handles[m.ID]; dup {
			r.closeAll(log)
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		eng, err := factory(m, log.With().Str("model", m.ID).Logger())
		if err != nil {
			r.closeAll(log)
			return nil, fmt.Errorf("load model %q: %w", m.ID, err)
		}
		if eng.Modality() != m.Modality {
			_ = eng.Close()
			r.closeAll(log)
			return nil, fmt.Errorf("model %q: engine modality %q does not match configured %q", m.ID, eng.Modality(), m.Modality)
		}
		r.handles[m.ID] = &Handle{Desc: m.Desc(), Engine: eng}
		r.order = append(r.order, m.ID)
		log.Info().Str("model", m.ID).Str("modality", string(m.Modality)).Msg("model loaded")
	}
	return r, nil
}

// Resolve returns the handle for id or an unknown-model error.
func (r *Registry) Resolve(id string) (*Handle, error) {
	h, ok := r.handles[id]
	if !ok {
		return nil, ErrUnknownModel(id)
	}
	return h, nil
}

// List returns descriptors in configuration order.
func (r *Registry) List() []types.ModelDesc {
	out := make([]types.ModelDesc, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handles[id].Desc)
	}
	return out
}

// Close releases every engine. Callers must have drained all running jobs.
func (r *Registry) Close() error {
	var errs []error
	for _, id := range r.order {
		if err := r.handles[id].Engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) closeAll(log zerolog.Logger) {
	for _, id := range r.order {
		if err := r.handles[id].Engine.Close(); err != nil {
			log.Warn().Err(err).Str("model", id).Msg("close engine during failed startup")
		}
	}
}

// unknownModelError reports a model id absent from the registry.
type unknownModelError struct{ id string }

func (e unknownModelError) Error() string { return fmt.Sprintf("unknown model %q", e.id) }

// StatusCode maps the error to 404 at the HTTP boundary.
func (e unknownModelError) StatusCode() int { return 404 }

// ErrUnknownModel constructs an unknownModelError.
func ErrUnknownModel(id string) error { return unknownModelError{id: id} }

// IsUnknownModel reports whether err names a model the daemon does not serve.
func IsUnknownModel(err error) bool {
	var e unknownModelError
	return errors.As(err, &e)
}
