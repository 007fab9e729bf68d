package router

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/monitoring"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"go.uber.org/zap"
)

// CapacityChecker reports whether a backend's pool could accept a new
// request right now — satisfied by internal/infrastructure/pool.Pool.
type CapacityChecker interface {
	HasCapacity() bool
}

// Router implements the backend-selection algorithm: enumerate, probe
// availability in parallel, coerce failures to unavailable, pick by policy.
// It uses pool-capacity back-pressure rather than a failure-count circuit
// breaker as the
// thing that gates a candidate.
type Router struct {
	registry  service.Registry
	metadata  map[string]*entity.Backend // name -> static metadata (cost, tool order)
	pools     map[string]CapacityChecker // name -> pool, CLI backends only
	toolOrder []string                   // configured enumeration order for tool-capable backends
	logger    *zap.Logger
}

var _ service.Router = (*Router)(nil)

// Config wires a Router's static knowledge of its backends.
type Config struct {
	Metadata  map[string]*entity.Backend
	Pools     map[string]CapacityChecker
	ToolOrder []string
}

// New constructs a Router over the given registry (for availability probes)
// and static backend metadata/pool handles (for cost and capacity).
func New(registry service.Registry, cfg Config, logger *zap.Logger) *Router {
	return &Router{
		registry:  registry,
		metadata:  cfg.Metadata,
		pools:     cfg.Pools,
		toolOrder: cfg.ToolOrder,
		logger:    logger.With(zap.String("component", "router")),
	}
}

// Route implements the five-step algorithm
func (r *Router) Route(ctx context.Context, req *entity.ExecutionRequest, opts service.RouteOptions) (*entity.RoutingDecision, error) {
	// Step 1: explicit backend wins if available.
	if opts.ExplicitBackend != "" {
		if b, ok := r.registry.Lookup(opts.ExplicitBackend); ok && b.IsAvailable(ctx) {
			r.recordDecision(opts.ExplicitBackend, false)
			return &entity.RoutingDecision{
				Backend:       opts.ExplicitBackend,
				Reason:        "explicit backend requested",
				IsFallback:    false,
				EstimatedCost: r.estimateCost(opts.ExplicitBackend, req, opts),
			}, nil
		}
	}

	// Step 2: does this request require a tool-capable backend?
	if req.RequiresTools() {
		return r.routeToolPath(ctx, req, opts)
	}

	return r.routeAPIPath(ctx, req, opts)
}

func (r *Router) routeToolPath(ctx context.Context, req *entity.ExecutionRequest, opts service.RouteOptions) (*entity.RoutingDecision, error) {
	candidates := r.toolOrder
	if len(candidates) == 0 {
		for _, b := range r.registry.ToolCapable() {
			candidates = append(candidates, b.Name())
		}
	}

	var firstAvailable string

	for _, name := range candidates {
		b, ok := r.registry.Lookup(name)
		if !ok || !b.IsAvailable(ctx) {
			continue
		}
		if firstAvailable == "" {
			firstAvailable = name
		}
		if r.hasCapacity(name) {
			r.recordDecision(name, false)
			return &entity.RoutingDecision{
				Backend: name,
				Reason:  "tool-capable backend with capacity",
			}, nil
		}
	}

	if opts.AllowFallback {
		decision, err := r.routeAPIPath(ctx, req, opts)
		if err == nil {
			decision.IsFallback = true
			decision.Reason = "degraded — tools disabled"
			r.recordDecision(decision.Backend, true)
		}
		return decision, err
	}

	if firstAvailable != "" {
		r.recordDecision(firstAvailable, false)
		return &entity.RoutingDecision{
			Backend: firstAvailable,
			Reason:  "tool-capable backend at capacity, no fallback permitted",
		}, nil
	}

	return nil, gwerrors.NewUpstreamError("no tool-capable backend available")
}

func (r *Router) routeAPIPath(ctx context.Context, req *entity.ExecutionRequest, opts service.RouteOptions) (*entity.RoutingDecision, error) {
	apiBackends := r.registry.APIOnly()
	if len(apiBackends) == 0 {
		return nil, gwerrors.NewUpstreamError("no API backend configured")
	}

	health := r.registry.HealthCheck(ctx)

	var available []service.BackendRunner
	for _, b := range apiBackends {
		if health[b.Name()] {
			available = append(available, b)
		}
	}
	if len(available) == 0 {
		return nil, gwerrors.NewUpstreamError("no API backend available")
	}

	estimatedTokens := opts.EstimatedTokens
	if estimatedTokens == 0 {
		estimatedTokens = EstimateTokens(req)
	}

	chosen := r.pickByTieBreak(available, estimatedTokens, opts.ModelHint, req)

	return &entity.RoutingDecision{
		Backend:       chosen,
		Reason:        "api tie-break selection",
		EstimatedCost: r.estimateCost(chosen, req, opts),
	}, nil
}

// pickByTieBreak implements's ladder.
func (r *Router) pickByTieBreak(available []service.BackendRunner, estimatedTokens int, modelHint string, req *entity.ExecutionRequest) string {
	if estimatedTokens > 100000 {
		if name, ok := firstNameContaining(available, "gemini"); ok {
			return name
		}
	}

	if strings.Contains(modelHint, "sonnet") || strings.Contains(modelHint, "thinking") {
		if name, ok := firstNameContaining(available, "sonnet"); ok {
			return name
		}
	}

	best := available[0].Name()
	bestCost := math.MaxFloat64
	for _, b := range available {
		cost := r.estimateCost(b.Name(), req, service.RouteOptions{})
		if cost < bestCost {
			bestCost = cost
			best = b.Name()
		}
	}
	return best
}

func firstNameContaining(backends []service.BackendRunner, substr string) (string, bool) {
	for _, b := range backends {
		if strings.Contains(b.Name(), substr) {
			return b.Name(), true
		}
	}
	return "", false
}

func (r *Router) hasCapacity(name string) bool {
	p, ok := r.pools[name]
	if !ok {
		return true
	}
	return p.HasCapacity()
}

func (r *Router) estimateCost(name string, req *entity.ExecutionRequest, opts service.RouteOptions) float64 {
	meta, ok := r.metadata[name]
	if !ok {
		return 0
	}
	tokens := opts.EstimatedTokens
	if tokens == 0 {
		tokens = EstimateTokens(req)
	}
	return meta.EstimatedCostPerReq * float64(tokens) / 1000.0
}

func (r *Router) recordDecision(backend string, isFallback bool) {
	monitoring.RouterDecisions.WithLabelValues(backend, fmt.Sprintf("%v", isFallback)).Inc()
}

// EstimateTokens implements the fixed token estimate.
func EstimateTokens(req *entity.ExecutionRequest) int {
	chars := len(req.Query)
	for _, f := range req.ContextFiles {
		chars += len(f)
	}
	return int(math.Ceil(float64(chars) / 4.0))
}
