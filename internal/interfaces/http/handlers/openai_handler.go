package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/executor"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/stream"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"go.uber.org/zap"
)

// ChatMessage is one entry of an OpenAI chat-completion request's messages
// array.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ChatCompletionRequest mirrors OpenAI's request format, extended with the
// backend-specific fields
type ChatCompletionRequest struct {
	Model       string        `json:"model" binding:"required"`
	Messages    []ChatMessage `json:"messages" binding:"required,min=1,dive"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`

	SessionID            string                 `json:"session_id,omitempty"`
	WorkingDirectory     string                 `json:"working_directory,omitempty"`
	ContextFiles         []string               `json:"context_files,omitempty"`
	AllowedTools         []string               `json:"allowed_tools,omitempty"`
	DisallowedTools      []string               `json:"disallowed_tools,omitempty"`
	Tools                interface{}            `json:"tools,omitempty"`
	MaxBudgetUSD         float64                `json:"max_budget_usd,omitempty" binding:"omitempty,gt=0"`
	PermissionMode       string                 `json:"permission_mode,omitempty" binding:"omitempty,oneof=default plan acceptEdits bypassPermissions delegate dontAsk"`
	AppendSystemPrompt   bool                   `json:"append_system_prompt,omitempty"`
	JSONSchema           map[string]interface{} `json:"json_schema,omitempty"`
	Agent                string                 `json:"agent,omitempty"`
	Agents               map[string]interface{} `json:"agents,omitempty"`
	ContinueConversation bool                   `json:"continue_conversation,omitempty"`
	ForkSession          bool                   `json:"fork_session,omitempty"`
	Ephemeral            bool                   `json:"ephemeral,omitempty"`
	AddDirs              []string               `json:"add_dirs,omitempty"`
	FallbackModel        string                 `json:"fallback_model,omitempty"`
	MCPConfig            []string               `json:"mcp_config,omitempty"`
	StrictMCPConfig      bool                   `json:"strict_mcp_config,omitempty"`
	Verbose              bool                   `json:"verbose,omitempty"`
	Betas                []string               `json:"betas,omitempty"`
	Backend              string                 `json:"backend,omitempty"`
}

// ChatChoice represents a completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage represents token usage.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClaudeMetadata carries the backend-reported execution accounting that has
// no OpenAI equivalent.
type ClaudeMetadata struct {
	DurationMS    int64                     `json:"duration_ms"`
	APIDurationMS int64                     `json:"api_duration_ms"`
	Turns         int                       `json:"num_turns"`
	CostUSD       float64                   `json:"cost_usd"`
	Usage         entity.Usage              `json:"usage"`
	ModelUsage    map[string]entity.Usage   `json:"model_usage,omitempty"`
}

// ChatCompletionResponse mirrors OpenAI's response format, extended with
// session_id and claude_metadata.
type ChatCompletionResponse struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	Created        int64           `json:"created"`
	Model          string          `json:"model"`
	Choices        []ChatChoice    `json:"choices"`
	Usage          *ChatUsage      `json:"usage,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	ClaudeMetadata *ClaudeMetadata `json:"claude_metadata,omitempty"`
}

// OpenAIModel represents a model in the /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// OpenAIHandler implements the OpenAI-compatible request pipeline: the
// request/response shapes and error-envelope construction dispatch through
// the Router/Pool instead of a single in-process
// conversation use case.
type OpenAIHandler struct {
	router         service.Router
	registry       service.Registry
	logSink        service.RequestLogSink
	defaultPrompt  string
	models         []OpenAIModel
	startedAt      time.Time
	version        string
	logger         *zap.Logger
}

// Config wires an OpenAIHandler's collaborators.
type Config struct {
	Router              service.Router
	Registry            service.Registry
	LogSink             service.RequestLogSink
	DefaultSystemPrompt string
	Models              []OpenAIModel
	Version             string
}

// NewOpenAIHandler constructs the pipeline handler.
func NewOpenAIHandler(cfg Config, logger *zap.Logger) *OpenAIHandler {
	models := cfg.Models
	if len(models) == 0 {
		models = []OpenAIModel{{ID: "claude-gateway", Object: "model", Created: time.Now().Unix(), OwnedBy: "ngoclaw"}}
	}
	return &OpenAIHandler{
		router:        cfg.Router,
		registry:      cfg.Registry,
		logSink:       cfg.LogSink,
		defaultPrompt: cfg.DefaultSystemPrompt,
		models:        models,
		startedAt:     time.Now(),
		version:       cfg.Version,
		logger:        logger.With(zap.String("component", "pipeline")),
	}
}

// Health handles GET /health and GET /.
func (h *OpenAIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        h.version,
		"backend":        h.registry.Default(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: h.models})
}

// QueueStatus handles GET /queue/status, aggregating every pool's
// snapshot plus the sum across all of them.
func (h *OpenAIHandler) QueueStatus(pools map[string]service.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		perBackend := make(map[string]gin.H, len(pools))
		var aggActive, aggQueued, aggMaxConcurrent, aggMaxQueue int
		var aggProcessed, aggQueuedTotal, aggFailed int64

		for name, p := range pools {
			s := p.Stats()
			perBackend[name] = queueStatusJSON(s)
			aggActive += s.Active
			aggQueued += s.Queued
			aggMaxConcurrent += s.MaxConcurrent
			aggMaxQueue += s.MaxQueue
			aggProcessed += s.ProcessedTotal
			aggQueuedTotal += s.QueuedTotal
			aggFailed += s.FailedTotal
		}

		c.JSON(http.StatusOK, gin.H{
			"backends": perBackend,
			"aggregate": gin.H{
				"active":          aggActive,
				"queued":          aggQueued,
				"max_concurrent":  aggMaxConcurrent,
				"max_queue":       aggMaxQueue,
				"utilization":     utilization(aggActive, aggMaxConcurrent),
				"processed_total": aggProcessed,
				"queued_total":    aggQueuedTotal,
				"failed_total":    aggFailed,
			},
		})
	}
}

func queueStatusJSON(s service.PoolStats) gin.H {
	return gin.H{
		"active":          s.Active,
		"queued":          s.Queued,
		"max_concurrent":  s.MaxConcurrent,
		"max_queue":       s.MaxQueue,
		"utilization":     utilization(s.Active, s.MaxConcurrent),
		"processed_total": s.ProcessedTotal,
		"queued_total":    s.QueuedTotal,
		"failed_total":    s.FailedTotal,
	}
}

func utilization(active, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(active) / float64(max)
}

// ChatCompletions handles POST /v1/chat/completions and
// POST /v1/{backend}/chat/completions.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidationError(c, err)
		return
	}

	sessionID, err := extractSessionID(c, req.SessionID)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	req.SessionID = sessionID

	backend := req.Backend
	if pathBackend := c.Param("backend"); pathBackend != "" {
		backend = pathBackend
	}

	execReq, err := buildExecutionRequest(&req, h.defaultPrompt)
	if err != nil {
		writeGatewayError(c, gwerrors.NewInvalidArgument(err.Error()))
		return
	}

	start := time.Now()
	decision, execErr := h.router.Route(c.Request.Context(), execReq, service.RouteOptions{
		ExplicitBackend: backend,
		AllowFallback:   true,
		ModelHint:       req.Model,
	})
	if execErr != nil {
		h.emitLog(c, "", "routing failed", time.Since(start), nil, false, execErr)
		writeGatewayError(c, execErr)
		return
	}

	runner, ok := h.registry.Lookup(decision.Backend)
	if !ok {
		h.emitLog(c, decision.Backend, decision.Reason, time.Since(start), nil, decision.IsFallback, gwerrors.NewUpstreamError("resolved backend is no longer registered"))
		writeGatewayError(c, gwerrors.NewUpstreamError("resolved backend is no longer registered"))
		return
	}

	result, execErr := runner.Execute(c.Request.Context(), execReq)
	duration := time.Since(start)

	if execErr != nil {
		h.emitLog(c, decision.Backend, decision.Reason, duration, result, decision.IsFallback, execErr)
		if req.Stream {
			h.streamError(c, execErr)
			return
		}
		writeGatewayError(c, execErr)
		return
	}

	if result != nil && !result.OK {
		appErr := gwerrors.NewUpstreamError(fmt.Sprintf("%v", result.Err))
		h.emitLog(c, decision.Backend, decision.Reason, duration, result, decision.IsFallback, appErr)
		if req.Stream {
			h.streamError(c, appErr)
			return
		}
		writeGatewayError(c, appErr)
		return
	}

	h.emitLog(c, decision.Backend, decision.Reason, duration, result, decision.IsFallback, nil)

	if req.Stream {
		h.writeStream(c, &req, result)
		return
	}

	h.writeNonStream(c, &req, result)
}

func (h *OpenAIHandler) writeNonStream(c *gin.Context, req *ChatCompletionRequest, result *entity.ExecutionResult) {
	resp := ChatCompletionResponse{
		ID:        fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		Object:    "chat.completion",
		Created:   time.Now().Unix(),
		Model:     req.Model,
		SessionID: result.SessionID,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: result.OutputText},
				FinishReason: "stop",
			},
		},
	}

	if result.Metadata != nil {
		m := result.Metadata
		resp.Usage = &ChatUsage{
			PromptTokens:     m.Usage.Input,
			CompletionTokens: m.Usage.Output,
			TotalTokens:      m.Usage.Input + m.Usage.Output,
		}
		resp.ClaudeMetadata = &ClaudeMetadata{
			DurationMS:    m.DurationMS,
			APIDurationMS: m.APIDurationMS,
			Turns:         m.Turns,
			CostUSD:       m.CostUSD,
			Usage:         m.Usage,
			ModelUsage:    m.ModelUsage,
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *OpenAIHandler) writeStream(c *gin.Context, req *ChatCompletionRequest, result *entity.ExecutionResult) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	id := fmt.Sprintf("chatcmpl-%s", uuid.NewString())
	items := stream.BuildSequence(id, req.Model, result.OutputText, result.SessionID, time.Now().Unix(), nil)
	if err := stream.WriteSSE(c.Writer, items); err != nil {
		h.logger.Warn("streaming write failed", zap.Error(err))
	}
}

// streamError implements scenario 6: a failure discovered after
// the stream's headers would already be committed still emits one SSE error
// event followed by [DONE], never a bare connection drop.
func (h *OpenAIHandler) streamError(c *gin.Context, err error) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	items := stream.BuildSequence("", "", "", "", time.Now().Unix(), &stream.ErrorEvent{Error: stream.ErrorBody{
		Message: gwerrors.Message(err),
		Type:    string(gwerrors.EnvelopeType(err)),
		Code:    gwerrors.EnvelopeCode(err),
	}})
	if werr := stream.WriteSSE(c.Writer, items); werr != nil {
		h.logger.Warn("streaming error write failed", zap.Error(werr))
	}
}

func (h *OpenAIHandler) emitLog(c *gin.Context, backend, reason string, duration time.Duration, result *entity.ExecutionResult, isFallback bool, err error) {
	if h.logSink == nil {
		return
	}
	rec := service.LogRecord{
		Backend:        backend,
		DecisionReason: reason,
		DurationMS:     duration.Milliseconds(),
		IsFallback:     isFallback,
		Timestamp:      time.Now(),
	}
	if result != nil && result.Metadata != nil {
		rec.InputTokens = result.Metadata.Usage.Input
		rec.OutputTokens = result.Metadata.Usage.Output
		rec.CostUSD = result.Metadata.CostUSD
	}
	if err != nil {
		rec.Error = gwerrors.Message(err)
	}
	if logErr := h.logSink.Record(c.Request.Context(), rec); logErr != nil {
		h.logger.Warn("failed to persist request log", zap.Error(logErr))
	}
}

// buildExecutionRequest translates the OpenAI-shaped body into the domain
// ExecutionRequest, reducing the message history to a single prompt string
// via the executor's prompt-reduction algorithm.
func buildExecutionRequest(req *ChatCompletionRequest, defaultSystemPrompt string) (*entity.ExecutionRequest, error) {
	history := make([]executor.ChatMessage, 0, len(req.Messages))
	systemPrompt := defaultSystemPrompt
	for _, m := range req.Messages {
		if m.Role == "system" && systemPrompt == "" {
			systemPrompt = m.Content
		}
		history = append(history, executor.ChatMessage{Role: m.Role, Content: m.Content})
	}

	sessionMode := entity.SessionNew
	if req.SessionID != "" {
		sessionMode = entity.SessionResume
	} else if req.ContinueConversation {
		sessionMode = entity.SessionContinueLatest
	}

	prompt, err := executor.BuildPrompt(history, sessionMode == entity.SessionResume)
	if err != nil {
		return nil, err
	}

	permMode := entity.PermissionMode(req.PermissionMode)
	if permMode == "" {
		permMode = entity.PermissionDefault
	}

	allowedTools := req.AllowedTools
	if names, ok := toolNames(req.Tools); ok {
		allowedTools = append(append([]string{}, allowedTools...), names...)
	}

	execReq := &entity.ExecutionRequest{
		Query:              prompt,
		SessionMode:        sessionMode,
		SessionID:          req.SessionID,
		Model:              req.Model,
		FallbackModel:      req.FallbackModel,
		AllowedTools:       allowedTools,
		DisallowedTools:    req.DisallowedTools,
		JSONSchema:         req.JSONSchema,
		Agent:              req.Agent,
		Agents:             req.Agents,
		WorkingDirectory:   req.WorkingDirectory,
		ContextFiles:       req.ContextFiles,
		AddDirs:            req.AddDirs,
		MCPConfig:          req.MCPConfig,
		StrictMCPConfig:    req.StrictMCPConfig,
		MaxBudgetUSD:       req.MaxBudgetUSD,
		PermissionMode:     permMode,
		SystemPrompt:       systemPrompt,
		AppendSystemPrompt: req.AppendSystemPrompt,
		Verbose:            req.Verbose,
		Betas:              req.Betas,
		ForkSession:        req.ForkSession,
		Ephemeral:          req.Ephemeral,
	}

	if err := execReq.Validate(); err != nil {
		return nil, err
	}

	return execReq, nil
}

// toolNames extracts an explicit tool list from the body's "tools" field,
// which is one of "" (unset), "default" (use the backend's
// normal toolset, nothing to add), or an explicit []string.
func toolNames(tools interface{}) ([]string, bool) {
	switch v := tools.(type) {
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names, len(names) > 0
	case []string:
		return v, len(v) > 0
	default:
		return nil, false
	}
}

// extractSessionID implements: an optional X-Session-Id
// header must be UUID v1-v5, is lowercased, and only fills the body's
// session_id when the body did not already carry one.
func extractSessionID(c *gin.Context, bodySessionID string) (string, error) {
	header := c.GetHeader("X-Session-Id")
	if header == "" {
		return bodySessionID, nil
	}

	id, err := uuid.Parse(header)
	if err != nil {
		return "", gwerrors.NewInvalidArgument("X-Session-Id must be a valid UUID")
	}
	if v := id.Version(); v < 1 || v > 5 {
		return "", gwerrors.NewInvalidArgument("X-Session-Id must be UUID v1-v5")
	}

	lowered := strings.ToLower(id.String())
	if bodySessionID != "" {
		return bodySessionID, nil
	}
	return lowered, nil
}

func writeGatewayError(c *gin.Context, err error) {
	c.JSON(gwerrors.HTTPStatus(err), gin.H{
		"error": gin.H{
			"message": gwerrors.Message(err),
			"type":    gwerrors.EnvelopeType(err),
			"code":    gwerrors.EnvelopeCode(err),
		},
	})
}

// writeValidationError turns a gin binding failure into the bounded,
// non-sensitive field-error list: field name and
// constraint tag only, never the submitted value.
func writeValidationError(c *gin.Context, err error) {
	details := gin.H{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	} else {
		details["body"] = "malformed JSON"
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"message": "request failed validation",
			"type":    "invalid_request_error",
			"code":    "invalid_argument",
			"details": details,
		},
	})
}
