package service

import (
	"context"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

// BackendRunner executes one ExecutionRequest against a concrete backend
// (a CLI subprocess or a remote HTTP provider) and is the thing a Pool or
// a Router ultimately calls. Implementations live in
// internal/infrastructure/executor (CLI) and internal/infrastructure/llm/*
// (remote API backends).
type BackendRunner interface {
	Name() string
	Kind() entity.BackendKind
	IsAvailable(ctx context.Context) bool
	Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error)
}

// LimitDecision is the result of a rate-limiter admission check.
type LimitDecision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when not applicable
}

// Limiter is the sliding-window admission-control port (component A).
type Limiter interface {
	Check(key string) LimitDecision
	MaxRequests() int
}

// Registry is the backend-handle lookup port (component B).
type Registry interface {
	Lookup(name string) (BackendRunner, bool)
	ListAll() []BackendRunner
	ToolCapable() []BackendRunner
	APIOnly() []BackendRunner
	HealthCheck(ctx context.Context) map[string]bool
	// Default returns the configured default backend name.
	Default() string
}

// PoolStats is the per-backend snapshot served at GET /queue/status.
type PoolStats struct {
	Active         int
	Queued         int
	MaxConcurrent  int
	MaxQueue       int
	ProcessedTotal int64
	QueuedTotal    int64
	FailedTotal    int64
}

// Pool is the bounded-concurrency admission queue port (component D).
type Pool interface {
	Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error)
	Stats() PoolStats
	HasCapacity() bool
	Shutdown(ctx context.Context) (rejected int, timedOut bool)
}

// RouteOptions carries caller-supplied routing hints.
type RouteOptions struct {
	ExplicitBackend string
	AllowFallback   bool
	EstimatedTokens int
	ModelHint       string
}

// Router picks a backend for a request (component E).
type Router interface {
	Route(ctx context.Context, req *entity.ExecutionRequest, opts RouteOptions) (*entity.RoutingDecision, error)
}

// LogRecord is the tuple emitted once per request by the pipeline, consumed
// by the persistent logging sink collaborator.
type LogRecord struct {
	Backend        string
	DecisionReason string
	DurationMS     int64
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	IsFallback     bool
	Error          string
	Timestamp      time.Time
}

// RequestLogSink is the persistent-logging collaborator (out of core scope
//, but given a concrete interface + GORM implementation here so
// the pipeline has something real to call).
type RequestLogSink interface {
	Record(ctx context.Context, rec LogRecord) error
}
