package backend

import (
	"context"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"go.uber.org/zap"
)

// APIRunner adapts a remote-provider llm.Provider (anthropic/openai/gemini)
// into service.BackendRunner, translating an ExecutionRequest's prompt into
// the single-turn LLMRequest shape the provider understands. Session
// continuation for API backends is caller-side (message history replay),
// since these providers are stateless per call — unlike CLI backends, which
// track sessions in their own process.
//
// Calls are guarded by a circuit breaker per backend: five consecutive
// provider failures trip it, after which calls are rejected locally for 30s
// before a single probe request is allowed through.
type APIRunner struct {
	name     string
	provider llm.Provider
	model    string
	logger   *zap.Logger
	breaker  *llm.CircuitBreaker
}

var _ service.BackendRunner = (*APIRunner)(nil)

// NewAPIRunner wraps a configured provider as a gateway backend.
func NewAPIRunner(name string, provider llm.Provider, defaultModel string, logger *zap.Logger) *APIRunner {
	return &APIRunner{
		name:     name,
		provider: provider,
		model:    defaultModel,
		logger:   logger.With(zap.String("backend", name)),
		breaker:  llm.NewCircuitBreaker(5, 30*time.Second),
	}
}

func (a *APIRunner) Name() string            { return a.name }
func (a *APIRunner) Kind() entity.BackendKind { return entity.BackendAPI }

func (a *APIRunner) IsAvailable(ctx context.Context) bool {
	// Allow moves an open breaker to half-open once the recovery timeout has
	// passed, so the backend is offered to the router again for the probe.
	return a.breaker.Allow() && a.provider.IsAvailable(ctx)
}

func (a *APIRunner) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	if !a.breaker.Allow() {
		return nil, gwerrors.NewUpstreamError(a.name + " circuit open")
	}

	model := req.Model
	if model == "" {
		model = a.model
	}

	llmReq := &service.LLMRequest{
		Messages: []service.LLMMessage{
			{Role: "user", Content: req.Query},
		},
		Model: model,
	}
	if req.SystemPrompt != "" {
		llmReq.Messages = append([]service.LLMMessage{{Role: "system", Content: req.SystemPrompt}}, llmReq.Messages...)
	}

	resp, err := a.provider.Generate(ctx, llmReq)
	if err != nil {
		a.breaker.RecordFailure()
		return nil, err
	}
	a.breaker.RecordSuccess()

	return &entity.ExecutionResult{
		OK:         true,
		OutputText: resp.Content,
		Metadata: &entity.ExecutionMetadata{
			Usage: entity.Usage{Output: resp.TokensUsed},
		},
	}, nil
}
