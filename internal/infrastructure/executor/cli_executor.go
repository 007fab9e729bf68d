package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	gwerrors "github.com/ngoclaw/ngoclaw/gateway/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTimeout is the subprocess wall-clock timeout when the request does
// not specify one.
const DefaultTimeout = 120 * time.Second

// cliOutput is the single JSON object a well-behaved CLI backend writes to
// stdout on exit 0.
type cliOutput struct {
	IsError       bool                `json:"is_error"`
	Subtype       string              `json:"subtype"`
	Output        string              `json:"output"`
	Error         string              `json:"error"`
	SessionID     string              `json:"session_id"`
	DurationMS    *int64              `json:"duration_ms"`
	APIDurationMS *int64              `json:"api_duration_ms"`
	Turns         *int                `json:"num_turns"`
	CostUSD       *float64            `json:"total_cost_usd"`
	Usage         *cliUsage           `json:"usage"`
	ModelUsage    map[string]cliUsage `json:"model_usage"`
	UUID          string              `json:"uuid"`
}

type cliUsage struct {
	InputTokens              *int `json:"input_tokens"`
	OutputTokens             *int `json:"output_tokens"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens"`
}

func intOr0(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func int64Or0(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func floatOr0(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func toUsage(u *cliUsage) entity.Usage {
	if u == nil {
		return entity.Usage{}
	}
	return entity.Usage{
		Input:       intOr0(u.InputTokens),
		Output:      intOr0(u.OutputTokens),
		CacheRead:   intOr0(u.CacheReadInputTokens),
		CacheCreate: intOr0(u.CacheCreationInputTokens),
	}
}

// Config configures the CLI Executor's idea of the target binary.
type Config struct {
	BinaryPath string // externally named binary, e.g. "claude"
	WorkDir    string // process default cwd when the request has none
}

// Executor runs one local subprocess per ExecutionRequest, passing parameters
// safely as argv (never shell-interpolated), enforcing a wall-clock timeout,
// and parsing JSON stdout, using the same spawn/timeout/reap shape as the gateway's ExecutionRequest and
// extended with the JSON-parameter sanitizer.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a CLI Executor bound to one backend binary.
func New(cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cli-executor"), zap.String("binary", cfg.BinaryPath)),
	}
}

// Execute runs req to completion or to timeout. The returned error is always
// one of pkg/errors' AppErrors; a non-nil ExecutionResult with OK=false and a
// nil error represents an expected backend-reported failure (non-zero exit,
// is_error payload) so pipeline callers can distinguish "the backend
// declined" from "we could not even run it".
func (e *Executor) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, gwerrors.NewInvalidArgument(err.Error())
	}

	argv, useStdin, err := buildArgv(req)
	if err != nil {
		return nil, gwerrors.NewInvalidArgument(err.Error())
	}

	timeout := DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.cfg.BinaryPath, argv...)
	cmd.Dir = e.resolveWorkDir(req)
	cmd.Env = e.buildEnvironment(req)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var stdinPipe interface {
		Write([]byte) (int, error)
		Close() error
	}
	if useStdin {
		pipe, perr := cmd.StdinPipe()
		if perr != nil {
			return nil, gwerrors.NewInternalErrorWithCause("open stdin pipe", perr)
		}
		stdinPipe = pipe
	}

	if startErr := cmd.Start(); startErr != nil {
		return nil, gwerrors.NewInternalErrorWithCause("start subprocess", startErr)
	}

	if useStdin {
		_, writeErr := stdinPipe.Write([]byte(req.Query))
		closeErr := stdinPipe.Close()
		if writeErr != nil {
			e.killIdempotent(cmd)
			_ = cmd.Wait()
			return nil, gwerrors.NewStdinWriteError(fmt.Sprintf("stdin write failed: %v", writeErr))
		}
		_ = closeErr
	}

	waitErr := cmd.Wait()

	if execCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn("Subprocess timed out", zap.Duration("timeout", timeout))
		return nil, gwerrors.NewExecutionTimeout(fmt.Sprintf("subprocess timed out after %v", timeout))
	}

	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("exited with code %d", exitCode)
		}
		return &entity.ExecutionResult{OK: false, Err: fmt.Errorf("%s", msg)}, nil
	}

	return e.parseOutput(stdout.String())
}

// parseOutput implements the zero-exit result shaping: parse as
// JSON, check for a reported error, else build the metadata block with ??0
// defaults; on parse failure fall back to text-success mode (the documented
// resolution of the open JSON-parse-fallback question).
func (e *Executor) parseOutput(raw string) (*entity.ExecutionResult, error) {
	var out cliOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		trimmed := strings.TrimSpace(raw)
		return &entity.ExecutionResult{
			OK:         true,
			OutputText: trimmed,
			SessionID:  "",
			Metadata:   nil,
		}, nil
	}

	if out.IsError || out.Subtype == "error" {
		errMsg := out.Error
		if errMsg == "" {
			errMsg = out.Output
		}
		return &entity.ExecutionResult{
			OK:        false,
			SessionID: out.SessionID,
			Err:       fmt.Errorf("%s", errMsg),
		}, nil
	}

	modelUsage := make(map[string]entity.Usage, len(out.ModelUsage))
	for k, v := range out.ModelUsage {
		modelUsage[k] = toUsage(&v)
	}

	return &entity.ExecutionResult{
		OK:         true,
		OutputText: out.Output,
		SessionID:  out.SessionID,
		Metadata: &entity.ExecutionMetadata{
			DurationMS:    int64Or0(out.DurationMS),
			APIDurationMS: int64Or0(out.APIDurationMS),
			Turns:         intOr0(out.Turns),
			CostUSD:       floatOr0(out.CostUSD),
			Usage:         toUsage(out.Usage),
			ModelUsage:    modelUsage,
			UUID:          out.UUID,
		},
	}, nil
}

func (e *Executor) resolveWorkDir(req *entity.ExecutionRequest) string {
	if req.WorkDir != "" {
		return req.WorkDir
	}
	return e.cfg.WorkDir
}

// buildEnvironment copies the process environment and appends
// CLAUDE_CONFIG_DIR when the request supplies a config dir
func (e *Executor) buildEnvironment(req *entity.ExecutionRequest) []string {
	env := append([]string{}, os.Environ()...)
	if req.ConfigDir != "" {
		env = append(env, "CLAUDE_CONFIG_DIR="+req.ConfigDir)
	}
	return env
}

// killIdempotent kills the process if it is still running; calling it more
// than once, or after the process already exited, is a safe no-op (spec
// §4.3 subprocess reaping invariant).
func (e *Executor) killIdempotent(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
