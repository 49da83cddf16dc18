// Package lookup resolves entities against GreyNoise: one orchestrator per
// entity, a bounded scheduler per batch, and an Engine that ties classifier,
// scheduler, and summary builder together.
package lookup

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/greylookup/internal/entity"
	"github.com/lvonguyen/greylookup/internal/greynoise"
	"github.com/lvonguyen/greylookup/internal/observability"
	"github.com/lvonguyen/greylookup/internal/result"
)

// Caller is the slice of the gateway the orchestrator needs.
type Caller interface {
	Call(ctx context.Context, ep greynoise.Endpoint, value string) (*greynoise.RawResponse, error)
	Tier() greynoise.TierConfig
}

// Orchestrator issues the calls one entity needs on its tier and folds the
// classified outcomes into a composite.
type Orchestrator struct {
	caller  Caller
	metrics *observability.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewOrchestrator creates an orchestrator. metrics may be nil.
func NewOrchestrator(caller Caller, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{caller: caller, metrics: metrics, logger: logger, tracer: tracer}
}

// Resolve looks up one entity. On a transport failure it returns the error
// together with a composite whose failed slots carry the transport outcome,
// so callers may either abort or keep the entity as an error result.
func (o *Orchestrator) Resolve(ctx context.Context, e entity.Entity) (result.Composite, error) {
	ctx, span := o.tracer.Start(ctx, "lookup.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.type", string(e.Kind)),
		attribute.String("tier", string(o.caller.Tier().Name)),
	)

	c, err := o.resolve(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return c, err
}

func (o *Orchestrator) resolve(ctx context.Context, e entity.Entity) (result.Composite, error) {
	tier := o.caller.Tier().Name

	switch {
	case tier == greynoise.TierCommunity && e.IsIP():
		out, err := o.call(ctx, greynoise.EndpointCommunityLookup, e.Value)
		return result.CommunityIP{Ent: e, Lookup: out}, err

	case tier == greynoise.TierUnified && e.IsIP():
		out, err := o.call(ctx, greynoise.EndpointUnifiedIP, e.Value)
		return result.UnifiedIP{Ent: e, Lookup: out}, err

	case tier == greynoise.TierUnified && e.IsCVE():
		out, err := o.call(ctx, greynoise.EndpointUnifiedCVE, e.Value)
		return result.UnifiedCVE{Ent: e, Lookup: out}, err

	case tier == greynoise.TierSubscription && e.IsIP():
		noise, riot, err := o.pair(ctx, e.Value, greynoise.EndpointNoiseContext, greynoise.EndpointRIOTLookup)
		return result.SubscriptionIP{Ent: e, Noise: noise, RIOT: riot}, err

	case tier == greynoise.TierSubscription && e.IsCVE():
		return o.resolveCVE(ctx, e)

	default:
		return nil, fmt.Errorf("no lookup for %s entity on %s tier", e.Kind, tier)
	}
}

// resolveCVE classifies the GNQL stats call alone. The sample query is only
// issued when stats reports activity, and its outcome never changes the
// composite's state.
func (o *Orchestrator) resolveCVE(ctx context.Context, e entity.Entity) (result.Composite, error) {
	stats, err := o.call(ctx, greynoise.EndpointGNQLStats, e.Value)
	c := result.SubscriptionCVE{Ent: e, Stats: stats}
	if err != nil || !c.Found() {
		return c, err
	}

	query, err := o.call(ctx, greynoise.EndpointGNQLQuery, e.Value)
	if err != nil || query.State != result.StateSuccess {
		o.logger.Debug("gnql sample omitted", zap.String("value", e.Value))
		return c, nil
	}
	c.Query = &query
	return c, nil
}

// pair issues two dependent calls concurrently. A plain errgroup is used so
// one call failing never cancels its sibling.
func (o *Orchestrator) pair(ctx context.Context, value string, first, second greynoise.Endpoint) (result.Outcome, result.Outcome, error) {
	var (
		g    errgroup.Group
		a, b result.Outcome
	)

	g.Go(func() error {
		var err error
		a, err = o.call(ctx, first, value)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = o.call(ctx, second, value)
		return err
	})

	return a, b, g.Wait()
}

// call performs one upstream request and classifies it.
func (o *Orchestrator) call(ctx context.Context, ep greynoise.Endpoint, value string) (result.Outcome, error) {
	tier := string(o.caller.Tier().Name)
	start := time.Now()

	resp, err := o.caller.Call(ctx, ep, value)
	if o.metrics != nil {
		o.metrics.UpstreamDuration.WithLabelValues(tier, string(ep)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.TransportErrors.WithLabelValues(tier, string(ep)).Inc()
		}
		o.logger.Warn("upstream call failed",
			zap.String("endpoint", string(ep)),
			zap.String("value", value),
			zap.Error(err),
		)
		return result.TransportFailure(err), err
	}

	out := result.Classify(resp.StatusCode, resp.Body)
	if o.metrics != nil {
		o.metrics.UpstreamCalls.WithLabelValues(tier, string(ep), out.State.String()).Inc()
	}
	if out.State.IsFailure() {
		o.logger.Info("upstream call not successful",
			zap.String("endpoint", string(ep)),
			zap.String("value", value),
			zap.Int("status", out.StatusCode),
			zap.String("state", out.State.String()),
		)
	}
	return out, nil
}
