package lookup

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/greylookup/internal/entity"
	"github.com/lvonguyen/greylookup/internal/result"
)

// MaxInFlight is the fixed number of entities an engine resolves at once.
const MaxInFlight = 10

// TransportPolicy decides what a transport failure does to a batch.
type TransportPolicy int

const (
	// FailBatch aborts the whole batch with the first transport error.
	FailBatch TransportPolicy = iota

	// IsolateEntity keeps the batch going and reports the failure as that
	// entity's error result.
	IsolateEntity
)

// ParseTransportPolicy maps a config value onto a policy.
func ParseTransportPolicy(s string) (TransportPolicy, error) {
	switch s {
	case "", "fail_batch":
		return FailBatch, nil
	case "isolate":
		return IsolateEntity, nil
	default:
		return FailBatch, fmt.Errorf("unknown transport policy: %q", s)
	}
}

// String implements fmt.Stringer.
func (p TransportPolicy) String() string {
	if p == IsolateEntity {
		return "isolate"
	}
	return "fail_batch"
}

// Resolver resolves a single entity.
type Resolver interface {
	Resolve(ctx context.Context, e entity.Entity) (result.Composite, error)
}

// Scheduler fans a batch out over a Resolver with bounded concurrency.
type Scheduler struct {
	resolver    Resolver
	concurrency int
	policy      TransportPolicy
	logger      *zap.Logger
}

// NewScheduler creates a scheduler. concurrency <= 0 uses MaxInFlight.
func NewScheduler(resolver Resolver, concurrency int, policy TransportPolicy, logger *zap.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = MaxInFlight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		resolver:    resolver,
		concurrency: concurrency,
		policy:      policy,
		logger:      logger,
	}
}

// Run resolves every entity and returns composites in input order. Under
// FailBatch the first transport error cancels outstanding work and no
// partial output is returned.
func (s *Scheduler) Run(ctx context.Context, entities []entity.Entity) ([]result.Composite, error) {
	composites := make([]result.Composite, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, e := range entities {
		g.Go(func() error {
			c, err := s.resolver.Resolve(gctx, e)
			if err != nil {
				if c == nil || s.policy == FailBatch {
					return fmt.Errorf("resolving %s %q: %w", e.Kind, e.Value, err)
				}
				s.logger.Warn("isolating transport failure",
					zap.String("value", e.Value),
					zap.Error(err),
				)
			}
			composites[i] = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return composites, nil
}
