package service

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

// LLMMessage is a single turn in a conversation sent to a remote-provider
// backend. Tool-call fields carry a provider's
// function-calling turn when a caller replays history that included one.
type LLMMessage struct {
	Role       string
	Content    string
	ToolCalls  []entity.ToolCallInfo
	ToolCallID string
	Name       string
}

// ToolSchema describes one callable tool in the shape every supported
// provider's function-calling API expects (name, description, JSON-Schema
// parameters).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// LLMRequest is the single-turn request an APIRunner issues to its backing
// llm.Provider.
type LLMRequest struct {
	Messages    []LLMMessage
	Tools       []ToolSchema
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMResponse is a provider's reply to an LLMRequest.
type LLMResponse struct {
	Content    string
	ToolCalls  []entity.ToolCallInfo
	ModelUsed  string
	TokensUsed int
}

// LLMClient is the interface a remote-provider backend implements. Backends
// are always called synchronously; the gateway's own streaming surface
// chunks an already-complete LLMResponse rather than relaying a provider's
// native stream (see infrastructure/stream).
type LLMClient interface {
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}
