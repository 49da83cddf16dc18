// Package gateway provides API gateway functionality including rate limiting
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/greylookup/internal/observability"
)

// fixedWindow increments a per-minute counter and starts its TTL on first use.
var fixedWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimiter provides fixed-window rate limiting for API endpoints
type RateLimiter struct {
	redis   *redis.Client
	logger  *zap.Logger
	metrics *observability.Metrics
	config  RateLimitConfig
}

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	RequestsPerMinute int                       `yaml:"requests_per_minute"`
	BurstSize         int                       `yaml:"burst_size"`
	Endpoints         map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders    bool                      `yaml:"include_headers"`
}

// EndpointLimits defines rate limits for specific endpoints
type EndpointLimits struct {
	Path              string `yaml:"path"`
	Method            string `yaml:"method"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	CostMultiplier    int    `yaml:"cost_multiplier"`
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

// NewRateLimiter creates a new rate limiter. A nil redis client disables
// limiting; every request is allowed. metrics may be nil.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, metrics *observability.Metrics, logger *zap.Logger) *RateLimiter {
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultEndpointLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		redis:   redisClient,
		logger:  logger,
		metrics: metrics,
		config:  cfg,
	}
}

// DefaultEndpointLimits returns default endpoint-specific limits
func DefaultEndpointLimits() map[string]EndpointLimits {
	return map[string]EndpointLimits{
		// Every lookup batch fans out to many upstream calls.
		"POST:/api/v1/lookup": {
			Path:              "/api/v1/lookup",
			Method:            http.MethodPost,
			RequestsPerMinute: 30,
			CostMultiplier:    2,
		},
	}
}

// Check performs a rate limit check. Redis errors fail open.
func (rl *RateLimiter) Check(ctx context.Context, clientID, endpoint, method string) (*RateLimitResult, error) {
	limit := rl.effectiveLimit(rl.getEndpointLimits(endpoint, method))
	if rl.redis == nil {
		return &RateLimitResult{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	redisKey := fmt.Sprintf("greylookup:ratelimit:%s:%s:minute", clientID, endpoint)
	now := time.Now()

	count, err := fixedWindow.Run(ctx, rl.redis, []string{redisKey}, 60000).Int()
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: limit}, nil
	}

	allowed := count <= limit
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := rl.redis.TTL(ctx, redisKey).Result()
	if ttl < 0 {
		ttl = time.Minute
	}

	res := &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   now.Add(ttl),
	}
	if !allowed {
		res.RetryAfter = ttl
		res.Reason = "Rate limit exceeded"
	}
	return res, nil
}

func (rl *RateLimiter) getEndpointLimits(endpoint, method string) *EndpointLimits {
	key := method + ":" + endpoint
	if limits, ok := rl.config.Endpoints[key]; ok {
		return &limits
	}
	return nil
}

// effectiveLimit is the per-minute allowance: the base rate plus burst,
// narrowed by any endpoint limit and divided by its cost.
func (rl *RateLimiter) effectiveLimit(endpoint *EndpointLimits) int {
	limit := rl.config.RequestsPerMinute + rl.config.BurstSize
	if endpoint == nil {
		return limit
	}
	if endpoint.RequestsPerMinute > 0 && endpoint.RequestsPerMinute < limit {
		limit = endpoint.RequestsPerMinute
	}
	if endpoint.CostMultiplier > 1 {
		limit /= endpoint.CostMultiplier
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Middleware returns an HTTP middleware for rate limiting
func (rl *RateLimiter) Middleware(getClientID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var clientID string
			if getClientID != nil {
				clientID = getClientID(r)
			}
			if clientID == "" {
				clientID = getClientIP(r)
			}

			result, err := rl.Check(r.Context(), clientID, r.URL.Path, r.Method)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if rl.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				if !result.ResetAt.IsZero() {
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
				}
			}

			if !result.Allowed {
				if rl.metrics != nil {
					rl.metrics.RateLimited.Inc()
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate_limit_exceeded","message":"%s","retry_after":%d}`,
					result.Reason, int(result.RetryAfter.Seconds()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP keys on the connection address. Forwarding headers are only
// honoured once a trusted RealIP middleware has rewritten RemoteAddr.
func getClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
