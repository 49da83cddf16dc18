// Package api exposes the lookup engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/greylookup/internal/api/gateway"
	"github.com/lvonguyen/greylookup/internal/config"
	"github.com/lvonguyen/greylookup/internal/entity"
	"github.com/lvonguyen/greylookup/internal/greynoise"
	"github.com/lvonguyen/greylookup/internal/observability"
	"github.com/lvonguyen/greylookup/internal/result"
)

// maxBodyBytes caps a lookup request body.
const maxBodyBytes = 4 << 20

// Lookuper runs a lookup batch.
type Lookuper interface {
	Lookup(ctx context.Context, entities []entity.Entity, opts config.Options) ([]result.LookupResult, error)
}

// Handler serves the lookup API.
type Handler struct {
	engine      Lookuper
	opts        config.Options
	maxEntities int
	version     string
	trustProxy  bool
	ready       func(ctx context.Context) error
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// HandlerConfig holds handler settings.
type HandlerConfig struct {
	Options     config.Options
	MaxEntities int
	Version     string
	TrustProxy  bool

	// Ready reports dependency health for /ready. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewHandler creates a handler. metrics may be nil.
func NewHandler(engine Lookuper, cfg HandlerConfig, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:      engine,
		opts:        cfg.Options,
		maxEntities: cfg.MaxEntities,
		version:     cfg.Version,
		trustProxy:  cfg.TrustProxy,
		ready:       cfg.Ready,
		metrics:     metrics,
		logger:      logger,
	}
}

// Router builds the HTTP routes. limiter and metricsHandler may be nil.
func (h *Handler) Router(limiter *gateway.RateLimiter, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if h.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware(nil))
		}
		r.Post("/lookup", h.handleLookup)
	})

	return r
}

// LookupRequest is the body of POST /api/v1/lookup.
type LookupRequest struct {
	Entities []EntityRequest `json:"entities"`
}

// EntityRequest is one submitted observable.
type EntityRequest struct {
	Value     string `json:"value"`
	Type      string `json:"type"`
	IsPrivate bool   `json:"isPrivateIP,omitempty"`
}

// LookupResponse is the body returned by a successful lookup.
type LookupResponse struct {
	Results []result.LookupResult `json:"results"`
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Entities) == 0 {
		writeError(w, http.StatusBadRequest, "entities are required")
		return
	}
	if h.maxEntities > 0 && len(req.Entities) > h.maxEntities {
		writeError(w, http.StatusRequestEntityTooLarge, "too many entities, max "+strconv.Itoa(h.maxEntities))
		return
	}

	entities := make([]entity.Entity, 0, len(req.Entities))
	for _, e := range req.Entities {
		entities = append(entities, entity.Entity{
			Value:     e.Value,
			Kind:      entity.ParseKind(e.Type),
			IsPrivate: e.IsPrivate,
		})
	}

	results, err := h.engine.Lookup(r.Context(), entities, h.opts)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, greynoise.ErrTransport):
			status = http.StatusBadGateway
		case errors.Is(err, config.ErrMissingAPIKey), errors.Is(err, config.ErrTrailingSlash):
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("lookup failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("entities", len(entities)),
			zap.Error(err),
		)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, LookupResponse{Results: results})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": h.version})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.opts.Validate(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// instrument records request counts and latency by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		if h.metrics != nil {
			h.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			h.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
