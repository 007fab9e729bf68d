package router

import (
	"context"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"go.uber.org/zap"
)

type fakeRunner struct {
	name      string
	kind      entity.BackendKind
	available bool
}

func (f *fakeRunner) Name() string            { return f.name }
func (f *fakeRunner) Kind() entity.BackendKind { return f.kind }
func (f *fakeRunner) IsAvailable(ctx context.Context) bool { return f.available }
func (f *fakeRunner) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	return &entity.ExecutionResult{OK: true}, nil
}

type fakeRegistry struct {
	backends map[string]service.BackendRunner
	order    []string
}

func (r *fakeRegistry) add(b service.BackendRunner) {
	if r.backends == nil {
		r.backends = map[string]service.BackendRunner{}
	}
	r.backends[b.Name()] = b
	r.order = append(r.order, b.Name())
}
func (r *fakeRegistry) Lookup(name string) (service.BackendRunner, bool) {
	b, ok := r.backends[name]
	return b, ok
}
func (r *fakeRegistry) ListAll() []service.BackendRunner {
	var out []service.BackendRunner
	for _, n := range r.order {
		out = append(out, r.backends[n])
	}
	return out
}
func (r *fakeRegistry) ToolCapable() []service.BackendRunner {
	var out []service.BackendRunner
	for _, b := range r.ListAll() {
		if b.Kind() == entity.BackendCLI {
			out = append(out, b)
		}
	}
	return out
}
func (r *fakeRegistry) APIOnly() []service.BackendRunner {
	var out []service.BackendRunner
	for _, b := range r.ListAll() {
		if b.Kind() == entity.BackendAPI {
			out = append(out, b)
		}
	}
	return out
}
func (r *fakeRegistry) HealthCheck(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	for _, b := range r.ListAll() {
		out[b.Name()] = b.IsAvailable(ctx)
	}
	return out
}

type fakeCapacity struct{ has bool }

func (f fakeCapacity) HasCapacity() bool { return f.has }

func TestRouter_ExplicitBackendWins(t *testing.T) {
	reg := &fakeRegistry{}
	reg.add(&fakeRunner{name: "claude-cli", kind: entity.BackendCLI, available: true})
	r := New(reg, Config{}, zap.NewNop())

	d, err := r.Route(context.Background(), &entity.ExecutionRequest{Query: "q"}, service.RouteOptions{ExplicitBackend: "claude-cli"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != "claude-cli" || d.IsFallback {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRouter_ToolRequiredPicksCapableBackendWithCapacity(t *testing.T) {
	reg := &fakeRegistry{}
	reg.add(&fakeRunner{name: "cli-a", kind: entity.BackendCLI, available: true})
	reg.add(&fakeRunner{name: "cli-b", kind: entity.BackendCLI, available: true})

	r := New(reg, Config{
		ToolOrder: []string{"cli-a", "cli-b"},
		Pools: map[string]CapacityChecker{
			"cli-a": fakeCapacity{has: false},
			"cli-b": fakeCapacity{has: true},
		},
	}, zap.NewNop())

	req := &entity.ExecutionRequest{Query: "q", WorkingDirectory: "/tmp"}
	d, err := r.Route(context.Background(), req, service.RouteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != "cli-b" {
		t.Fatalf("expected cli-b (has capacity), got %s", d.Backend)
	}
}

func TestRouter_ToolRequiredFallsBackToAPIWhenNoCapacity(t *testing.T) {
	reg := &fakeRegistry{}
	reg.add(&fakeRunner{name: "cli-a", kind: entity.BackendCLI, available: true})
	reg.add(&fakeRunner{name: "api-a", kind: entity.BackendAPI, available: true})

	r := New(reg, Config{
		ToolOrder: []string{"cli-a"},
		Pools:     map[string]CapacityChecker{"cli-a": fakeCapacity{has: false}},
	}, zap.NewNop())

	req := &entity.ExecutionRequest{Query: "q", WorkingDirectory: "/tmp"}
	d, err := r.Route(context.Background(), req, service.RouteOptions{AllowFallback: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != "api-a" || !d.IsFallback {
		t.Fatalf("expected fallback to api-a, got %+v", d)
	}
}

func TestRouter_ToolRequiredNoFallbackReturnsFirstAvailable(t *testing.T) {
	reg := &fakeRegistry{}
	reg.add(&fakeRunner{name: "cli-a", kind: entity.BackendCLI, available: true})

	r := New(reg, Config{
		ToolOrder: []string{"cli-a"},
		Pools:     map[string]CapacityChecker{"cli-a": fakeCapacity{has: false}},
	}, zap.NewNop())

	req := &entity.ExecutionRequest{Query: "q", WorkingDirectory: "/tmp"}
	d, err := r.Route(context.Background(), req, service.RouteOptions{AllowFallback: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != "cli-a" {
		t.Fatalf("expected cli-a back-pressure passthrough, got %+v", d)
	}
}

func TestRouter_APIPathPrefersGeminiForLargeContext(t *testing.T) {
	reg := &fakeRegistry{}
	reg.add(&fakeRunner{name: "gemini-pro", kind: entity.BackendAPI, available: true})
	reg.add(&fakeRunner{name: "openai-gpt", kind: entity.BackendAPI, available: true})

	r := New(reg, Config{}, zap.NewNop())
	req := &entity.ExecutionRequest{Query: "q"}
	d, err := r.Route(context.Background(), req, service.RouteOptions{EstimatedTokens: 200000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != "gemini-pro" {
		t.Fatalf("expected gemini-pro for large context, got %s", d.Backend)
	}
}

func TestRouter_APIPathPicksCheapestByDefault(t *testing.T) {
	reg := &fakeRegistry{}
	reg.add(&fakeRunner{name: "pricey", kind: entity.BackendAPI, available: true})
	reg.add(&fakeRunner{name: "cheap", kind: entity.BackendAPI, available: true})

	r := New(reg, Config{
		Metadata: map[string]*entity.Backend{
			"pricey": {Name: "pricey", EstimatedCostPerReq: 10.0},
			"cheap":  {Name: "cheap", EstimatedCostPerReq: 0.1},
		},
	}, zap.NewNop())

	req := &entity.ExecutionRequest{Query: "q"}
	d, err := r.Route(context.Background(), req, service.RouteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != "cheap" {
		t.Fatalf("expected cheap backend, got %s", d.Backend)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := &entity.ExecutionRequest{Query: "12345678"} // 8 chars -> ceil(8/4)=2
	if got := EstimateTokens(req); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}
