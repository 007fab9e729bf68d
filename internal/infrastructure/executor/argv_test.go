package executor

import (
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
)

func TestBuildArgv_QueryIsPositionalWhenNoVariadicFlag(t *testing.T) {
	req := &entity.ExecutionRequest{Query: "hello"}
	argv, useStdin, err := buildArgv(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if useStdin {
		t.Fatal("expected query on argv, not stdin")
	}
	if argv[len(argv)-1] != "hello" {
		t.Fatalf("expected query as last argv element, got %v", argv)
	}
}

func TestBuildArgv_QueryMovesToStdinWithJSONSchema(t *testing.T) {
	req := &entity.ExecutionRequest{
		Query:      "hello",
		JSONSchema: map[string]interface{}{"type": "object"},
	}
	argv, useStdin, err := buildArgv(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !useStdin {
		t.Fatal("expected query to move to stdin")
	}
	for _, a := range argv {
		if a == "hello" {
			t.Fatal("query must not appear in argv when useStdin is true")
		}
	}
}

func TestBuildArgv_RejectsMaliciousJSONSchema(t *testing.T) {
	req := &entity.ExecutionRequest{
		Query:      "t",
		JSONSchema: map[string]interface{}{"cmd": "$(rm -rf /)"},
	}
	_, _, err := buildArgv(req)
	if err == nil {
		t.Fatal("expected rejection for malicious jsonSchema")
	}
}

func TestBuildArgv_FixedFlagOrderByCategory(t *testing.T) {
	req := &entity.ExecutionRequest{
		Query:           "q",
		Model:           "opus",
		SystemPrompt:    "be nice",
		SessionMode:     entity.SessionContinueLatest,
		AllowedTools:    []string{"bash"},
		MaxBudgetUSD:    1.5,
		Agent:           "researcher",
		AddDirs:         []string{"/tmp/x"},
		Verbose:         true,
	}
	argv, _, err := buildArgv(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	indexOf := func(s string) int {
		for i, a := range argv {
			if a == s {
				return i
			}
		}
		return -1
	}

	if indexOf("--model") > indexOf("--system-prompt") {
		t.Error("expected model flags before system-prompt flags")
	}
	if indexOf("--system-prompt") > indexOf("--continue") {
		t.Error("expected system-prompt before session control")
	}
	if indexOf("--continue") > indexOf("--allowedTools") {
		t.Error("expected session control before tool control")
	}
	if indexOf("--allowedTools") > indexOf("--max-budget-usd") {
		t.Error("expected tool control before budget")
	}
	if indexOf("--agent") > indexOf("--add-dir") {
		t.Error("expected agent before directory access")
	}
	if indexOf("--add-dir") > indexOf("--verbose") {
		t.Error("expected directory access before advanced")
	}
}
