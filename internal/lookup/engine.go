package lookup

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/greylookup/internal/config"
	"github.com/lvonguyen/greylookup/internal/entity"
	"github.com/lvonguyen/greylookup/internal/greynoise"
	"github.com/lvonguyen/greylookup/internal/observability"
	"github.com/lvonguyen/greylookup/internal/result"
	"github.com/lvonguyen/greylookup/internal/summary"
)

var tracer = otel.Tracer("github.com/lvonguyen/greylookup/internal/lookup")

// EngineConfig holds the settings shared by every batch. A nil Tracer uses
// the global provider.
type EngineConfig struct {
	HTTPClient *http.Client
	Version    string
	Transport  TransportPolicy
	Tracer     trace.Tracer
}

// Engine runs complete lookup batches.
type Engine struct {
	cfg     EngineConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEngine creates an engine. metrics may be nil.
func NewEngine(cfg EngineConfig, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracer
	}
	return &Engine{cfg: cfg, metrics: metrics, logger: logger}
}

// Lookup validates opts, filters entities down to the eligible set, resolves
// them, and renders one LookupResult per eligible entity (IPs first, then
// CVEs). Ineligible entities produce no output and no upstream traffic.
func (e *Engine) Lookup(ctx context.Context, entities []entity.Entity, opts config.Options) ([]result.LookupResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tierCfg, err := greynoise.NewTierConfig(opts.Tier(), opts.BaseURL, opts.APIKey)
	if err != nil {
		return nil, err
	}
	tier := string(tierCfg.Name)
	batchID := uuid.NewString()
	logger := e.logger.With(zap.String("batch_id", batchID))

	ctx, span := e.cfg.Tracer.Start(ctx, "lookup.batch")
	defer span.End()

	start := time.Now()
	eligible := entity.Classify(entities, entity.Policy{
		SkipRFC1918:   opts.IgnoreRFC1918,
		CVEsSupported: tierCfg.SupportsCVE,
	})
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("tier", tier),
		attribute.Int("entities.submitted", len(entities)),
		attribute.Int("entities.eligible", eligible.Len()),
	)

	if eligible.Len() == 0 {
		return []result.LookupResult{}, nil
	}
	if e.metrics != nil {
		e.metrics.BatchSize.Observe(float64(eligible.Len()))
	}

	client := greynoise.NewClient(tierCfg, e.cfg.HTTPClient, e.cfg.Version, logger)
	orchestrator := NewOrchestrator(client, e.metrics, logger)
	orchestrator.tracer = e.cfg.Tracer
	scheduler := NewScheduler(orchestrator, MaxInFlight, e.cfg.Transport, logger)

	composites, err := scheduler.Run(ctx, eligible.All())
	if err != nil {
		e.observeBatch(tier, "error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("lookup batch failed",
			zap.String("tier", tier),
			zap.Int("entities", eligible.Len()),
			zap.Error(err),
		)
		return nil, err
	}

	results := summary.BuildAll(composites, summary.Policy{
		IgnoreNonSeen: opts.IgnoreNonSeen,
		MaliciousOnly: opts.MaliciousOnly,
		UsingAPIKey:   opts.APIKey != "",
	})

	if e.metrics != nil {
		for i, c := range composites {
			e.metrics.LookupResults.WithLabelValues(tier, outcomeLabel(c, results[i])).Inc()
		}
	}
	e.observeBatch(tier, "ok", start)

	logger.Info("lookup batch complete",
		zap.String("tier", tier),
		zap.Int("submitted", len(entities)),
		zap.Int("eligible", eligible.Len()),
		zap.Duration("duration", time.Since(start)),
	)

	return results, nil
}

func (e *Engine) observeBatch(tier, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.BatchDuration.WithLabelValues(tier, status).Observe(time.Since(start).Seconds())
}

// outcomeLabel buckets a rendered result for metrics.
func outcomeLabel(c result.Composite, r result.LookupResult) string {
	switch {
	case result.Failure(c) != nil:
		return result.Failure(c).State.String()
	case r.Suppressed():
		return "suppressed"
	case c.Found():
		return "found"
	default:
		return "not_found"
	}
}
