package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gend/internal/store"
	"gend/internal/stream"
	"gend/pkg/types"
)

// Service defines the methods required by the HTTP API layer. The scheduler
// implements it.
type Service interface {
	Submit(ctx context.Context, ident types.Identity, modelID string, modality types.Modality, params json.RawMessage) (uuid.UUID, error)
	Status(ctx context.Context, ident types.Identity, id uuid.UUID) (*types.JobRecord, error)
	List(ctx context.Context, ident types.Identity, f store.Filter) ([]*types.JobRecord, error)
	Cancel(ctx context.Context, ident types.Identity, id uuid.UUID) error
	Delete(ctx context.Context, ident types.Identity, id uuid.UUID) error
	Subscribe(ctx context.Context, ident types.Identity, id uuid.UUID) (*stream.Subscription, error)
	Artifacts(ctx context.Context, ident types.Identity, id uuid.UUID) ([]*types.Artifact, error)
	Artifact(ctx context.Context, ident types.Identity, id uuid.UUID, seq int) (*types.Artifact, error)
	Models() []types.ModelDesc
	Snapshot() []types.LaneStatus
	Draining() bool
}

// Config wires the HTTP layer.
type Config struct {
	Service Service
	Log     zerolog.Logger
	// BaseContext is canceled at shutdown so live streams terminate before
	// the listener drains. Defaults to Background.
	BaseContext context.Context
	// MaxBodyBytes caps JSON request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
	// CORSOrigins enables CORS for the listed origins; empty disables it.
	CORSOrigins []string
}

// Server carries the handler dependencies.
type Server struct {
	svc     Service
	log     zerolog.Logger
	base    context.Context
	maxBody int64
	cors    []string
}

// New constructs the HTTP server glue around the scheduler.
func New(cfg Config) *Server {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		svc:     cfg.Service,
		log:     cfg.Log.With().Str("component", "http").Logger(),
		base:    cfg.BaseContext,
		maxBody: cfg.MaxBodyBytes,
		cors:    cfg.CORSOrigins,
	}
}

// Handler assembles the chi router with the full middleware stack and all
// API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(s.cors) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cors,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Auth-Subject", "X-Auth-Role"},
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)
	r.Use(s.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireIdentity)
		r.Post("/jobs/text", s.submitText)
		r.Post("/jobs/image", s.submitImage)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/cancel", s.cancelJob)
		r.Delete("/jobs/{id}", s.deleteJob)
		r.Get("/jobs/{id}/stream", s.streamJob)
		r.Get("/jobs/{id}/artifacts", s.listArtifacts)
		r.Get("/jobs/{id}/artifacts/{seq}", s.getArtifact)
		r.Get("/models", s.listModels)
		r.Get("/status", s.status)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Draining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// requestLogger logs one line per request. Probe and scrape endpoints are
// skipped to keep the log readable.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		ev := s.log.Info()
		if sr.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sr.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
