package executor

import (
	"strconv"
	"strings"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

// buildArgv assembles the CLI invocation's argv in the fixed category order
//: model, system prompt, session control, tool control, budget,
// structured output, agent, directory access, MCP, advanced. The query is
// appended as a trailing positional unless useStdin reports a variadic flag
// is present, in which case the caller writes the query to stdin instead.
func buildArgv(req *entity.ExecutionRequest) (argv []string, useStdin bool, err error) {
	argv = append(argv, "-p", "--output-format", "json")

	// model
	if req.Model != "" {
		argv = append(argv, "--model", req.Model)
	}
	if req.FallbackModel != "" {
		argv = append(argv, "--fallback-model", req.FallbackModel)
	}

	// system prompt
	if req.SystemPrompt != "" {
		if req.AppendSystemPrompt {
			argv = append(argv, "--append-system-prompt", req.SystemPrompt)
		} else {
			argv = append(argv, "--system-prompt", req.SystemPrompt)
		}
	}

	// session control
	switch req.SessionMode {
	case entity.SessionResume:
		argv = append(argv, "--resume", req.SessionID)
	case entity.SessionContinueLatest:
		argv = append(argv, "--continue")
	}
	if req.ForkSession {
		argv = append(argv, "--fork-session")
	}
	if req.Ephemeral {
		argv = append(argv, "--no-session-persistence")
	}

	// tool control
	if len(req.AllowedTools) > 0 {
		argv = append(argv, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if len(req.DisallowedTools) > 0 {
		argv = append(argv, "--disallowedTools", strings.Join(req.DisallowedTools, ","))
	}
	if req.PermissionMode != "" && req.PermissionMode != entity.PermissionDefault {
		argv = append(argv, "--permission-mode", string(req.PermissionMode))
	}

	// budget
	if req.MaxBudgetUSD > 0 {
		argv = append(argv, "--max-budget-usd", strconv.FormatFloat(req.MaxBudgetUSD, 'f', -1, 64))
	}

	// structured output
	if req.JSONSchema != nil {
		encoded, serr := sanitizeJSONParam("jsonSchema", req.JSONSchema)
		if serr != nil {
			return nil, false, serr
		}
		argv = append(argv, "--json-schema", encoded)
	}

	// agent
	if req.Agent != "" {
		argv = append(argv, "--agent", req.Agent)
	}
	if req.Agents != nil {
		encoded, serr := sanitizeJSONParam("agents", req.Agents)
		if serr != nil {
			return nil, false, serr
		}
		argv = append(argv, "--agents", encoded)
	}

	// directory access
	for _, dir := range req.AddDirs {
		argv = append(argv, "--add-dir", dir)
	}

	// MCP
	if len(req.MCPConfig) > 0 {
		argv = append(argv, "--mcp-config", strings.Join(req.MCPConfig, ","))
	}
	if req.StrictMCPConfig {
		argv = append(argv, "--strict-mcp-config")
	}

	// advanced
	if req.Verbose {
		argv = append(argv, "--verbose")
	}
	if len(req.Betas) > 0 {
		argv = append(argv, "--betas", strings.Join(req.Betas, ","))
	}

	useStdin = hasVariadicFlag(req)
	if !useStdin {
		argv = append(argv, req.Query)
	}

	return argv, useStdin, nil
}

// hasVariadicFlag reports whether any flag whose value can itself contain
// unbounded free text is present — if so, the query moves to stdin instead
// of argv so a single process-listing command cannot expose arbitrarily
// long user content.
func hasVariadicFlag(req *entity.ExecutionRequest) bool {
	return req.JSONSchema != nil || req.Agents != nil || len(req.Betas) > 0 || len(req.MCPConfig) > 0
}
