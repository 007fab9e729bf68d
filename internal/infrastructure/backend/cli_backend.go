package backend

import (
	"context"
	"os/exec"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/executor"
	"go.uber.org/zap"
)

// CLIRunner implements service.BackendRunner over a local subprocess,
// delegating to the executor package for spawn/timeout/parse and reporting
// availability by checking the configured binary is on PATH.
type CLIRunner struct {
	name     string
	executor *executor.Executor
	binary   string
	logger   *zap.Logger
}

var _ service.BackendRunner = (*CLIRunner)(nil)

// NewCLIRunner builds a CLI-backed runner. binary is the externally named
// executable; workDir is the process default cwd.
func NewCLIRunner(name, binary, workDir string, logger *zap.Logger) *CLIRunner {
	return &CLIRunner{
		name:     name,
		binary:   binary,
		executor: executor.New(executor.Config{BinaryPath: binary, WorkDir: workDir}, logger),
		logger:   logger.With(zap.String("backend", name)),
	}
}

func (c *CLIRunner) Name() string                 { return c.name }
func (c *CLIRunner) Kind() entity.BackendKind      { return entity.BackendCLI }
func (c *CLIRunner) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

func (c *CLIRunner) Execute(ctx context.Context, req *entity.ExecutionRequest) (*entity.ExecutionResult, error) {
	return c.executor.Execute(ctx, req)
}
