package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"go.uber.org/zap"
)

type fakeBackend struct {
	name      string
	kind      entity.BackendKind
	available bool
	panics    bool
	delay     time.Duration
}

func (f *fakeBackend) Name() string              { return f.name }
func (f *fakeBackend) Kind() entity.BackendKind   { return f.kind }
func (f *fakeBackend) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	return &entity.ExecutionResult{OK: true}, nil
}
func (f *fakeBackend) IsAvailable(ctx context.Context) bool {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("boom")
	}
	return f.available
}

func TestRegistry_ValidateRejectsEmpty(t *testing.T) {
	r := New(RoutingConfig{}, zap.NewNop())
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestRegistry_AddDuplicateRejected(t *testing.T) {
	r := New(RoutingConfig{}, zap.NewNop())
	b := &fakeBackend{name: "claude-cli", kind: entity.BackendCLI, available: true}
	if err := r.Add(b); err != nil {
		t.Fatalf("unexpected error adding backend: %v", err)
	}
	if err := r.Add(b); err == nil {
		t.Fatal("expected error adding duplicate backend name")
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_ToolCapableAndAPIOnly(t *testing.T) {
	r := New(RoutingConfig{}, zap.NewNop())
	cli := &fakeBackend{name: "cli-one", kind: entity.BackendCLI, available: true}
	api := &fakeBackend{name: "api-one", kind: entity.BackendAPI, available: true}
	_ = r.Add(cli)
	_ = r.Add(api)

	tc := r.ToolCapable()
	if len(tc) != 1 || tc[0].Name() != "cli-one" {
		t.Fatalf("expected only cli-one to be tool-capable, got %+v", tc)
	}
	ao := r.APIOnly()
	if len(ao) != 1 || ao[0].Name() != "api-one" {
		t.Fatalf("expected only api-one to be api-only, got %+v", ao)
	}
}

func TestRegistry_HealthCheckIsolatesPanicsAndSlowProbes(t *testing.T) {
	r := New(RoutingConfig{}, zap.NewNop())
	ok := &fakeBackend{name: "ok", kind: entity.BackendAPI, available: true}
	bad := &fakeBackend{name: "bad", kind: entity.BackendAPI, panics: true}
	slow := &fakeBackend{name: "slow", kind: entity.BackendAPI, available: true, delay: 10 * time.Millisecond}
	_ = r.Add(ok)
	_ = r.Add(bad)
	_ = r.Add(slow)

	start := time.Now()
	results := r.HealthCheck(context.Background())
	elapsed := time.Since(start)

	if !results["ok"] {
		t.Error("expected ok backend to be available")
	}
	if results["bad"] {
		t.Error("expected panicking backend to be coerced to unavailable")
	}
	if !results["slow"] {
		t.Error("expected slow backend to still report available")
	}
	if elapsed > 50*time.Millisecond {
		t.Fatalf("expected probes to run concurrently, took %v", elapsed)
	}
}

func TestValidateSourcePath_RejectsDenylistedRoots(t *testing.T) {
	cases := []string{"/etc/gateway/backends.yaml", "/var/lib/gateway.json", "/root/.gateway/config.yaml"}
	for _, c := range cases {
		if err := ValidateSourcePath(c); err == nil {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}

func TestValidateSourcePath_AllowsOrdinaryPaths(t *testing.T) {
	cases := []string{"", "./config/backends.yaml", "/opt/gateway/backends.yaml"}
	for _, c := range cases {
		if err := ValidateSourcePath(c); err != nil {
			t.Errorf("expected %q to be allowed, got %v", c, err)
		}
	}
}
